package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/colthorp/vitals-cli-go/internal/core"
)

// MCP Protocol types
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type MCPInitializeResult struct {
	ProtocolVersion string        `json:"protocolVersion"`
	ServerInfo      MCPServerInfo `json:"serverInfo"`
	Capabilities    interface{}   `json:"capabilities"`
}

// GetVitalsParams are the parameters for the get_vitals tool
type GetVitalsParams struct {
	PatientID int `json:"patient_id"`
}

// CommunityReportParams are the parameters for the community_report tool
type CommunityReportParams struct {
	StartDate string `json:"start_date"`
	StopDate  string `json:"stop_date"`
	MinCount  *int   `json:"min_count"`
}

// mcpServer answers MCP requests read line by line from in.
type mcpServer struct {
	env *environment
	in  io.Reader

	mu  sync.Mutex
	out io.Writer
}

func newMCPServer(env *environment, in io.Reader, out io.Writer) *mcpServer {
	return &mcpServer{env: env, in: in, out: out}
}

// Serve handles requests until in is exhausted or ctx is cancelled.
func (s *mcpServer) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	// Increase buffer size for large messages
	const maxCapacity = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxCapacity)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			// For parse errors, we can't know the ID, so we log to stderr
			// but don't send a response (which would have id: null and confuse clients)
			fmt.Fprintf(os.Stderr, "[MCP] Parse error: %v\n", err)
			continue
		}

		s.handleRequest(ctx, &req)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

func (s *mcpServer) handleRequest(ctx context.Context, req *MCPRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized", "notifications/initialized":
		// Notifications don't get responses - silently ignore
		return
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		// Only send error for requests (those with an ID)
		// Notifications (no ID) should be silently ignored per JSON-RPC spec
		if req.ID != nil {
			s.sendError(req.ID, -32601, "Method not found", req.Method)
		}
	}
}

func (s *mcpServer) handleInitialize(req *MCPRequest) {
	result := MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo: MCPServerInfo{
			Name:    "vitals-cli",
			Version: core.Version,
		},
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	}
	s.sendResponse(req.ID, result)
}

func (s *mcpServer) handleToolsList(req *MCPRequest) {
	tools := []MCPToolInfo{
		{
			Name:        "list_patients",
			Description: "List the ids of every patient on the FHIR server.\n\nReturns:\n    Dictionary with the patient count and ids, in server order",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        "get_vitals",
			Description: "Fetch the measured vital signs of one patient.\n\nArgs:\n    patient_id: Patient id as listed by list_patients\n\nReturns:\n    Dictionary with one entry per observation: date, code, display, value and units",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"patient_id": map[string]interface{}{
						"type":        "integer",
						"description": "Patient id",
					},
				},
				"required": []string{"patient_id"},
			},
		},
		{
			Name:        "community_report",
			Description: "Count each kind of vital sign across all patients within a date window.\n\nArgs:\n    start_date: First date of the window, inclusive (YYYY-MM-DD or relative shorthand)\n    stop_date: End of the window, exclusive\n    min_count: Only report vitals observed at least this many times\n\nReturns:\n    Dictionary with the observed date range and one row per reportable vital",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"start_date": map[string]interface{}{
						"type":        "string",
						"description": "First date of the window, inclusive",
						"default":     core.DefaultStartDate,
					},
					"stop_date": map[string]interface{}{
						"type":        "string",
						"description": "End of the window, exclusive",
						"default":     core.DefaultStopDate,
					},
					"min_count": map[string]interface{}{
						"type":        "integer",
						"description": "Minimum number of observations for a vital to be reported",
						"default":     core.DefaultMinCount,
					},
				},
			},
		},
	}

	s.sendResponse(req.ID, map[string]interface{}{"tools": tools})
}

func (s *mcpServer) handleToolsCall(ctx context.Context, req *MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, -32602, "Invalid params", err.Error())
		return
	}

	switch params.Name {
	case "list_patients":
		s.handleListPatients(ctx, req.ID)
	case "get_vitals":
		s.handleGetVitals(ctx, req.ID, params.Arguments)
	case "community_report":
		s.handleCommunityReport(ctx, req.ID, params.Arguments)
	default:
		s.sendError(req.ID, -32602, "Unknown tool", params.Name)
	}
}

func (s *mcpServer) handleListPatients(ctx context.Context, id interface{}) {
	ids, err := s.env.manager.PatientIDs(ctx)
	if err != nil {
		s.sendToolError(id, fmt.Sprintf("Failed to list patients: %v", err))
		return
	}

	s.sendToolResult(id, map[string]interface{}{
		"patients_count": len(ids),
		"patient_ids":    ids,
	})
}

func (s *mcpServer) handleGetVitals(ctx context.Context, id interface{}, argsJSON json.RawMessage) {
	var args GetVitalsParams
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		s.sendToolError(id, fmt.Sprintf("Invalid arguments: %v", err))
		return
	}

	vitals, err := s.env.manager.VitalsFor(ctx, args.PatientID)
	if err != nil {
		s.sendToolError(id, fmt.Sprintf("Failed to fetch vitals: %v", err))
		return
	}

	rows := make([]map[string]interface{}, 0, len(vitals))
	for _, v := range vitals {
		rows = append(rows, map[string]interface{}{
			"date":    core.DatePhrase(v.Applies),
			"code":    v.Coding.Code,
			"display": v.Coding.Display,
			"value":   v.Quantity.Value,
			"units":   v.Quantity.Units,
		})
	}

	s.sendToolResult(id, map[string]interface{}{
		"patient_id":   args.PatientID,
		"vitals_count": len(vitals),
		"vitals":       rows,
	})
}

func (s *mcpServer) handleCommunityReport(ctx context.Context, id interface{}, argsJSON json.RawMessage) {
	var args CommunityReportParams
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			s.sendToolError(id, fmt.Sprintf("Invalid arguments: %v", err))
			return
		}
	}

	// Each call works on its own copy of the configuration
	env := *s.env
	if args.StartDate != "" {
		env.cfg.StartDate = args.StartDate
	}
	if args.StopDate != "" {
		env.cfg.StopDate = args.StopDate
	}
	if args.MinCount != nil {
		env.cfg.MinCount = *args.MinCount
	}

	if err := env.cfg.Validate(); err != nil {
		s.sendToolError(id, fmt.Sprintf("Invalid window: %v", err))
		return
	}

	report, err := buildReport(ctx, &env)
	if err != nil {
		s.sendToolError(id, fmt.Sprintf("Failed to build report: %v", err))
		return
	}

	s.sendToolResult(id, report)
}

func (s *mcpServer) write(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[MCP] Encode error: %v\n", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, string(data))
}

func (s *mcpServer) sendResponse(id interface{}, result interface{}) {
	s.write(MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

func (s *mcpServer) sendError(id interface{}, code int, message, data string) {
	s.write(MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *mcpServer) sendToolResult(id interface{}, result interface{}) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": mustMarshal(result),
			},
		},
	})
}

func (s *mcpServer) sendToolError(id interface{}, message string) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": message,
			},
		},
		"isError": true,
	})
}

func mustMarshal(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(data)
}
