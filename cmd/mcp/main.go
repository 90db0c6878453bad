package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/holmes89/harbor-seal/lib/app"
	"github.com/holmes89/harbor-seal/lib/config"
	"github.com/holmes89/harbor-seal/lib/registry"
)

// MCP Protocol Types
type MCPMessage struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method,omitempty"`
	Params  interface{} `json:"params,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ToolListResult struct {
	Tools []Tool `json:"tools"`
}

type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      ServerInfo             `json:"serverInfo"`
}

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPServer exposes the registry and agent over the MCP stdio protocol.
// This is the programmatic entry point: re-ingesting an already indexed
// file overwrites without asking.
type MCPServer struct {
	services *app.App
	logger   *zap.Logger
}

func NewMCPServer(services *app.App, logger *zap.Logger) *MCPServer {
	return &MCPServer{
		services: services,
		logger:   logger,
	}
}

func (s *MCPServer) handleMessage(ctx context.Context, message MCPMessage) MCPMessage {
	switch message.Method {
	case "initialize":
		return s.handleInitialize(message)
	case "tools/list":
		return s.handleToolsList(message)
	case "tools/call":
		return s.handleToolCall(ctx, message)
	default:
		return MCPMessage{
			JSONRPC: "2.0",
			ID:      message.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", message.Method),
			},
		}
	}
}

func (s *MCPServer) handleInitialize(message MCPMessage) MCPMessage {
	return MCPMessage{
		JSONRPC: "2.0",
		ID:      message.ID,
		Result: InitializeResult{
			ProtocolVersion: "2024-11-05",
			Capabilities: map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			ServerInfo: ServerInfo{
				Name:    "harbor-seal",
				Version: "1.0.0",
			},
		},
	}
}

func (s *MCPServer) handleToolsList(message MCPMessage) MCPMessage {
	tools := []Tool{
		{
			Name:        "load_pdf",
			Description: "Load and index a PDF file for analysis. Re-indexes without asking when the file was already loaded.",
			InputSchema: objectSchema(map[string]interface{}{
				"file_path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the PDF file to load and index",
				},
			}, "file_path"),
		},
		{
			Name:        "list_files",
			Description: "List all indexed PDF files with their metadata.",
			InputSchema: objectSchema(map[string]interface{}{}),
		},
		{
			Name:        "get_file",
			Description: "Get detailed information about a specific indexed file.",
			InputSchema: objectSchema(map[string]interface{}{
				"file_id": map[string]interface{}{
					"type":        "string",
					"description": "UUID of the file",
				},
			}, "file_id"),
		},
		{
			Name:        "delete_file",
			Description: "Delete an indexed file and its vector index. The original PDF on disk is untouched.",
			InputSchema: objectSchema(map[string]interface{}{
				"file_id": map[string]interface{}{
					"type":        "string",
					"description": "UUID of the file",
				},
			}, "file_id"),
		},
		{
			Name:        "query_file",
			Description: "Ask a question about a specific indexed PDF file. Maintains conversation history per file.",
			InputSchema: objectSchema(map[string]interface{}{
				"file_id": map[string]interface{}{
					"type":        "string",
					"description": "UUID of the file to query",
				},
				"question": map[string]interface{}{
					"type":        "string",
					"description": "The question to ask about the document",
				},
			}, "file_id", "question"),
		},
		{
			Name:        "get_chat_history",
			Description: "Retrieve the conversation history for a specific file.",
			InputSchema: objectSchema(map[string]interface{}{
				"file_id": map[string]interface{}{
					"type":        "string",
					"description": "UUID of the file",
				},
			}, "file_id"),
		},
		{
			Name:        "clear_chat_history",
			Description: "Clear the session and conversation history for a specific file.",
			InputSchema: objectSchema(map[string]interface{}{
				"file_id": map[string]interface{}{
					"type":        "string",
					"description": "UUID of the file",
				},
			}, "file_id"),
		},
	}

	return MCPMessage{
		JSONRPC: "2.0",
		ID:      message.ID,
		Result: ToolListResult{
			Tools: tools,
		},
	}
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *MCPServer) handleToolCall(ctx context.Context, message MCPMessage) MCPMessage {
	paramsBytes, err := json.Marshal(message.Params)
	if err != nil {
		return s.errorResponse(message.ID, -32602, "Invalid params", err)
	}

	var params CallToolParams
	if err := json.Unmarshal(paramsBytes, &params); err != nil {
		return s.errorResponse(message.ID, -32602, "Invalid params", err)
	}

	switch params.Name {
	case "load_pdf":
		return s.handleLoadPDF(ctx, message.ID, params.Arguments)
	case "list_files":
		return s.handleListFiles(ctx, message.ID)
	case "get_file":
		return s.handleGetFile(ctx, message.ID, params.Arguments)
	case "delete_file":
		return s.handleDeleteFile(ctx, message.ID, params.Arguments)
	case "query_file":
		return s.handleQueryFile(ctx, message.ID, params.Arguments)
	case "get_chat_history":
		return s.handleGetChatHistory(ctx, message.ID, params.Arguments)
	case "clear_chat_history":
		return s.handleClearChatHistory(ctx, message.ID, params.Arguments)
	default:
		return s.errorResponse(message.ID, -32602, "Unknown tool", fmt.Errorf("tool %s not found", params.Name))
	}
}

func (s *MCPServer) handleLoadPDF(ctx context.Context, id interface{}, args map[string]interface{}) MCPMessage {
	path, ok := args["file_path"].(string)
	if !ok || path == "" {
		return s.errorResponse(id, -32602, "Missing or invalid file_path parameter", nil)
	}

	result, err := s.services.Registry.Ingest(ctx, path, registry.Always)
	if err != nil {
		return s.errorResponse(id, -32603, "Failed to load PDF", err)
	}
	return s.textResult(id, fmt.Sprintf("%s: %s (id: %s, collection: %s)",
		result.Status, result.Document.Name, result.Document.ID, result.Document.CollectionID))
}

func (s *MCPServer) handleListFiles(ctx context.Context, id interface{}) MCPMessage {
	documents, err := s.services.Registry.List(ctx)
	if err != nil {
		return s.errorResponse(id, -32603, "Failed to list files", err)
	}

	var content []string
	content = append(content, fmt.Sprintf("%d indexed files:", len(documents)))
	for _, document := range documents {
		content = append(content, fmt.Sprintf("- %s (%s, %d bytes, created %s)",
			document.Name, document.ID, document.Size, document.CreatedAt.Format("2006-01-02 15:04:05")))
	}
	return s.textResult(id, strings.Join(content, "\n"))
}

func (s *MCPServer) handleGetFile(ctx context.Context, id interface{}, args map[string]interface{}) MCPMessage {
	fileID, ok := args["file_id"].(string)
	if !ok || fileID == "" {
		return s.errorResponse(id, -32602, "Missing or invalid file_id parameter", nil)
	}

	document, err := s.services.Registry.Get(ctx, fileID)
	if err != nil {
		return s.errorResponse(id, -32603, "Failed to get file", err)
	}
	payload, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return s.errorResponse(id, -32603, "Failed to encode file", err)
	}
	return s.textResult(id, string(payload))
}

func (s *MCPServer) handleDeleteFile(ctx context.Context, id interface{}, args map[string]interface{}) MCPMessage {
	fileID, ok := args["file_id"].(string)
	if !ok || fileID == "" {
		return s.errorResponse(id, -32602, "Missing or invalid file_id parameter", nil)
	}

	if err := s.services.Registry.Remove(ctx, fileID); err != nil {
		return s.errorResponse(id, -32603, "Failed to delete file", err)
	}
	s.services.Agent.Clear(ctx, fileID)
	return s.textResult(id, fmt.Sprintf("Deleted file %s", fileID))
}

func (s *MCPServer) handleQueryFile(ctx context.Context, id interface{}, args map[string]interface{}) MCPMessage {
	fileID, ok := args["file_id"].(string)
	if !ok || fileID == "" {
		return s.errorResponse(id, -32602, "Missing or invalid file_id parameter", nil)
	}
	question, ok := args["question"].(string)
	if !ok || question == "" {
		return s.errorResponse(id, -32602, "Missing or invalid question parameter", nil)
	}

	document, err := s.services.Registry.Get(ctx, fileID)
	if err != nil {
		return s.errorResponse(id, -32603, "Failed to get file", err)
	}
	answer, err := s.services.Agent.Query(ctx, document, question)
	if err != nil {
		return s.errorResponse(id, -32603, "Query failed", err)
	}
	return s.textResult(id, answer.Answer)
}

func (s *MCPServer) handleGetChatHistory(ctx context.Context, id interface{}, args map[string]interface{}) MCPMessage {
	fileID, ok := args["file_id"].(string)
	if !ok || fileID == "" {
		return s.errorResponse(id, -32602, "Missing or invalid file_id parameter", nil)
	}

	history := s.services.Agent.History(ctx, fileID)
	var content []string
	content = append(content, fmt.Sprintf("%d messages:", len(history)))
	for _, turn := range history {
		content = append(content, fmt.Sprintf("[%s] %s: %s",
			turn.Timestamp.Format("2006-01-02 15:04:05"), turn.Role, turn.Content))
	}
	return s.textResult(id, strings.Join(content, "\n"))
}

func (s *MCPServer) handleClearChatHistory(ctx context.Context, id interface{}, args map[string]interface{}) MCPMessage {
	fileID, ok := args["file_id"].(string)
	if !ok || fileID == "" {
		return s.errorResponse(id, -32602, "Missing or invalid file_id parameter", nil)
	}

	s.services.Agent.Clear(ctx, fileID)
	return s.textResult(id, fmt.Sprintf("Cleared chat history for %s", fileID))
}

func (s *MCPServer) textResult(id interface{}, text string) MCPMessage {
	return MCPMessage{
		JSONRPC: "2.0",
		ID:      id,
		Result: CallToolResult{
			Content: []ContentItem{
				{
					Type: "text",
					Text: text,
				},
			},
		},
	}
}

func (s *MCPServer) errorResponse(id interface{}, code int, message string, err error) MCPMessage {
	errorData := message
	if err != nil {
		errorData = fmt.Sprintf("%s: %v", message, err)
	}

	return MCPMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: errorData,
		},
	}
}

func (s *MCPServer) Run(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	s.logger.Info("MCP server started, waiting for messages")

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var message MCPMessage
		if err := json.Unmarshal([]byte(line), &message); err != nil {
			s.logger.Warn("failed to parse message", zap.Error(err))
			continue
		}

		response := s.handleMessage(ctx, message)

		responseBytes, err := json.Marshal(response)
		if err != nil {
			s.logger.Warn("failed to marshal response", zap.Error(err))
			continue
		}

		fmt.Println(string(responseBytes))
	}

	if err := scanner.Err(); err != nil {
		s.logger.Error("error reading input", zap.Error(err))
	}
}

func main() {
	// stdout carries the protocol, logs go to stderr.
	zapConfig := zap.NewProductionConfig()
	zapConfig.OutputPaths = []string{"stderr"}
	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	services, err := app.New(config.Load(), logger)
	if err != nil {
		logger.Fatal("failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	NewMCPServer(services, logger).Run(context.Background())
}
