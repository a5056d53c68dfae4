package pipeline

import (
	"context"
	"strings"

	"github.com/EfanMutembo/leadpipe/internal/config"
	"github.com/EfanMutembo/leadpipe/internal/gateway"
	"github.com/EfanMutembo/leadpipe/pkg/anthropic"
)

// askAI sends one system+user exchange through the gateway and returns the
// response text. All stage-level AI calls funnel through here so retry policy
// and call accounting stay uniform.
func askAI(ctx context.Context, gw *gateway.Gateway, aiClient anthropic.Client, aiCfg config.AnthropicConfig, operation, system, user string) (string, anthropic.TokenUsage, error) {
	resp, err := gateway.Invoke(ctx, gw, "anthropic", operation, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return aiClient.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     aiCfg.Model,
			MaxTokens: int64(aiCfg.MaxTokens),
			System:    system,
			Messages: []anthropic.Message{
				{Role: "user", Content: user},
			},
		})
	})
	if err != nil {
		return "", anthropic.TokenUsage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// cleanJSON attempts to extract a JSON object or array from text that may
// contain markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	text = strings.TrimSpace(text)

	// Find the outermost object or array, whichever starts first.
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(text, "]"); end > arrStart {
			return strings.TrimSpace(text[arrStart : end+1])
		}
	}
	if objStart >= 0 {
		if end := strings.LastIndex(text, "}"); end > objStart {
			return strings.TrimSpace(text[objStart : end+1])
		}
	}

	return text
}

// chunkSlice splits items into consecutive chunks of at most size elements.
func chunkSlice[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	if len(items) == 0 {
		return nil
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
