package executors

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/template"
	"github.com/rendis/nodeflow/pkg/schema"
)

const httpRequestConfigSchema = `{
  "type": "object",
  "properties": {
    "endpoint": {"type": "string", "minLength": 1},
    "variableName": {"type": "string", "minLength": 1},
    "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
    "body": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}}
  },
  "required": ["endpoint", "variableName", "method"]
}`

type httpRequestConfig struct {
	Endpoint     string            `json:"endpoint"`
	VariableName string            `json:"variableName"`
	Method       string            `json:"method"`
	Body         string            `json:"body"`
	Headers      map[string]string `json:"headers"`
}

// HTTPResponse is the payload stored under the node's variable name.
type HTTPResponse struct {
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Data       any    `json:"data"`
}

// HTTPRequestExecutor implements HTTP_REQUEST.
type HTTPRequestExecutor struct {
	client *Client
}

// NewHTTPRequestExecutor creates the HTTP_REQUEST executor.
func NewHTTPRequestExecutor(client *Client) *HTTPRequestExecutor {
	return &HTTPRequestExecutor{client: client}
}

func (e *HTTPRequestExecutor) Type() schema.NodeType { return schema.NodeTypeHTTPRequest }

func (e *HTTPRequestExecutor) Schema() Schema {
	return Schema{
		Description: "Call an HTTP endpoint and store the response status and data.",
		Config:      json.RawMessage(httpRequestConfigSchema),
	}
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, in Input) (schema.RunContext, error) {
	return observe(ctx, in, func() (schema.RunContext, error) {
		var cfg httpRequestConfig
		if err := decodeConfig(in.Data, httpRequestConfigSchema, &cfg); err != nil {
			return nil, err
		}

		data := in.Context.Map()
		endpoint := template.Render(cfg.Endpoint, data)
		method := strings.ToUpper(cfg.Method)

		var body string
		if hasBody(method) {
			tpl := cfg.Body
			if strings.TrimSpace(tpl) == "" {
				tpl = "{}"
			}
			body = template.Render(tpl, data)
			if !json.Valid([]byte(body)) {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"HTTP_REQUEST node: rendered body is not valid JSON")
			}
		}
		headers := make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			headers[k] = template.Render(v, data)
		}

		out, err := durable.Run(ctx, in.Step, "http-request", func(ctx context.Context) (map[string]any, error) {
			resp, err := e.send(ctx, method, endpoint, body, headers)
			if err != nil {
				return nil, err
			}
			return map[string]any{"httpResponse": resp}, nil
		})
		if err != nil {
			return nil, err
		}
		return in.Context.With(cfg.VariableName, out), nil
	})
}

func (e *HTTPRequestExecutor) send(ctx context.Context, method, endpoint, body string, headers map[string]string) (*HTTPResponse, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNonRetryable, "HTTP_REQUEST node: invalid endpoint: %s", err.Error())
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return &HTTPResponse{
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Data:       decodeBody(resp),
	}, nil
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch
}

// decodeBody parses JSON responses and returns everything else as text.
func decodeBody(r *response) any {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var v any
		if err := json.Unmarshal(r.Body, &v); err == nil {
			return v
		}
	}
	return string(r.Body)
}
