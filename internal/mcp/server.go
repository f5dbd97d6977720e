// Package mcp exposes the causal audit core to agents over the Model
// Context Protocol. Each tool call lands in a session pipeline; nothing an
// agent does through these tools bypasses the ledger.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/causalvault/internal/confidence"
	"github.com/ppiankov/causalvault/internal/escalate"
	"github.com/ppiankov/causalvault/internal/killswitch"
	"github.com/ppiankov/causalvault/internal/ledger"
	"github.com/ppiankov/causalvault/internal/policy"
	"github.com/ppiankov/causalvault/internal/review"
	"github.com/ppiankov/causalvault/internal/session"
)

// Config holds MCP server configuration.
type Config struct {
	LedgerPath     string
	PolicyPath     string
	ConfidencePath string
	ReviewDir      string
	TokenDir       string
}

// Server wraps the MCP SDK server around a session manager.
type Server struct {
	mcpServer *mcpsdk.Server
	mgr       *session.Manager
	led       *ledger.Store
	reviews   *review.Queue
}

// New creates an MCP server with a loaded policy, confidence config, and
// ledger.
func New(cfg Config) (*Server, error) {
	led, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	policyCfg, policyHash, err := policy.LoadConfigWithHash(cfg.PolicyPath)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("failed to load policy config: %w", err)
	}
	confCfg, err := confidence.LoadConfig(cfg.ConfidencePath)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("failed to load confidence config: %w", err)
	}

	reviewDir := cfg.ReviewDir
	if reviewDir == "" {
		reviewDir = review.DefaultDir()
	}
	reviewStore, err := review.NewStore(reviewDir)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("failed to create review store: %w", err)
	}
	reviews := review.NewQueue(reviewStore, escalate.New(led))

	tokenDir := cfg.TokenDir
	if tokenDir == "" {
		tokenDir = killswitch.DefaultTokenDir()
	}
	tokens, err := killswitch.NewTokenStore(tokenDir)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("failed to create resume token store: %w", err)
	}

	mgr, err := session.NewManager(session.Options{
		Ledger:     led,
		Confidence: confidence.New(confCfg),
		Policy:     policyCfg,
		PolicyHash: policyHash,
		Tokens:     tokens,
		Reviews:    reviews,
	})
	if err != nil {
		led.Close()
		return nil, err
	}

	s := &Server{mgr: mgr, led: led, reviews: reviews}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "causalvault",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Manager exposes the session manager, for hot reload of policy config.
func (s *Server) Manager() *session.Manager { return s.mgr }

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close releases the ledger.
func (s *Server) Close() error {
	return s.led.Close()
}

// registerTools adds all causalvault tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "causalvault_open",
		Description: "Open a new reasoning session. Returns the session ID all other tools require.",
	}, s.handleOpen)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "causalvault_submit",
		Description: "Submit a reasoning step. Returns the computed confidence, compliance verdicts, and escalation decision. A halt decision freezes the session.",
	}, s.handleSubmit)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "causalvault_link",
		Description: "Add an explicit causal edge between two existing steps. Cycles are rejected.",
	}, s.handleLink)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "causalvault_trail",
		Description: "Extract the strongest causal chain ending at a step, root first.",
	}, s.handleTrail)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "causalvault_status",
		Description: "Report a session's lifecycle state, graph size, and snapshot digest.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "causalvault_verify",
		Description: "Verify a session's ledger hash chain. Reports the first tampered or missing entry.",
	}, s.handleVerify)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "causalvault_resume",
		Description: "Resume a halted session. Requires an active single-use resume token bound to the session and its halt snapshot.",
	}, s.handleResume)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "causalvault_flag_bias",
		Description: "Flag a step for bias or contradiction. Records the escalation and queues the step for human review.",
	}, s.handleFlagBias)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "causalvault_pending",
		Description: "List reasoning steps waiting for human review.",
	}, s.handlePending)
}
