package config

import (
	"fmt"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"

	"github.com/standardbeagle/linedb/internal/debug"
)

// applyKDL sets every field the document mentions and leaves the rest alone
func applyKDL(cfg *Config, content string) error {
	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "version":
			if v, ok := firstIntArg(n); ok {
				cfg.Version = v
			}
		case "server":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "addr":
					if s, ok := firstStringArg(cn); ok {
						cfg.Server.Addr = s
					}
				case "port":
					// shorthand for addr ":<port>"
					if v, ok := firstIntArg(cn); ok {
						cfg.Server.Addr = fmt.Sprintf(":%d", v)
					}
				case "poll_interval_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Server.PollIntervalMs = v
					}
				case "max_requests_per_second":
					if v, ok := firstFloatArg(cn); ok {
						cfg.Server.MaxRequestsPerSecond = v
					}
				case "burst":
					if v, ok := firstIntArg(cn); ok {
						cfg.Server.Burst = v
					}
				}
			}
		case "index":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "persist":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.Persist = b
					}
				case "suffix":
					if s, ok := firstStringArg(cn); ok {
						cfg.Index.Suffix = s
					}
				case "validate_cache":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.ValidateCache = b
					}
				case "watch_data_file":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Index.WatchDataFile = b
					}
				}
			}
		case "log":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "level":
					if s, ok := firstStringArg(cn); ok {
						cfg.Log.Level = s
					}
				case "file":
					if s, ok := firstStringArg(cn); ok {
						cfg.Log.File = s
					}
				}
			}
		}
	}

	return nil
}

// Helper functions over the kdl-go document model
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}
func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}
func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}
func firstFloatArg(n *document.Node) (float64, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		debug.Warn(debug.ComponentCLI, "invalid float value for '%s' in KDL config, expected number but got %T", nodeName(n), n.Arguments[0].Value)
		return 0, false
	}
}
