package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// resourceTokenHeader carries the delegated calendar token on tool calls.
const resourceTokenHeader = "X-Resource-Token"

// API is the calendar surface the gateway dispatches to. *Client satisfies
// it.
type API interface {
	ListEvents(ctx context.Context, token, calendarID string, params ListParams) ([]Event, error)
	CreateEvent(ctx context.Context, token, calendarID string, event Event) (Event, error)
	UpdateEvent(ctx context.Context, token, calendarID, eventID string, event Event) (Event, error)
	DeleteEvent(ctx context.Context, token, calendarID, eventID string) error
}

// Gateway exposes the calendar operations as HTTP tools for the reasoning
// runtime: GET /tools lists the manifest, POST /tools/{name} invokes one.
type Gateway struct {
	logger   *slog.Logger
	calendar API
	specs    []ToolSpec
	mux      *http.ServeMux
}

type GatewayOptions struct {
	Logger   *slog.Logger
	Calendar API
}

func NewGateway(opts GatewayOptions) (*Gateway, error) {
	if opts.Calendar == nil {
		return nil, fmt.Errorf("calendar api is required")
	}
	specs, err := LoadToolSpecs()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{logger: logger, calendar: opts.Calendar, specs: specs}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", g.handleListTools)
	mux.HandleFunc("POST /tools/{name}", g.handleInvokeTool)
	g.mux = mux
	return g, nil
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

func (g *Gateway) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": g.specs})
}

// toolArgs is the flat argument document every tool accepts; each tool reads
// the fields it cares about.
type toolArgs struct {
	CalendarID string `json:"calendar_id,omitempty"`
	TimeMin    string `json:"time_min,omitempty"`
	TimeMax    string `json:"time_max,omitempty"`
	Query      string `json:"query,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Event      *Event `json:"event,omitempty"`
}

func (g *Gateway) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	token := strings.TrimSpace(r.Header.Get(resourceTokenHeader))
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing delegated token"})
		return
	}

	var args toolArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid tool arguments"})
		return
	}

	result, err := g.invoke(r.Context(), name, token, args)
	switch {
	case err == nil:
		g.logger.Info("calendar_tool_ok", "tool", name)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "result": result})
	case errors.Is(err, errUnknownTool):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, errBadArguments):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, ErrUnauthorized):
		g.logger.Warn("calendar_tool_unauthorized", "tool", name)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "calendar token rejected"})
	default:
		g.logger.Error("calendar_tool_error", "tool", name, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "calendar operation failed"})
	}
}

var (
	errUnknownTool  = errors.New("unknown tool")
	errBadArguments = errors.New("bad tool arguments")
)

func (g *Gateway) invoke(ctx context.Context, name, token string, args toolArgs) (any, error) {
	switch name {
	case "get_events":
		params := ListParams{Query: args.Query, MaxResults: args.MaxResults}
		var err error
		if params.TimeMin, err = parseTime(args.TimeMin); err != nil {
			return nil, fmt.Errorf("%w: time_min: %v", errBadArguments, err)
		}
		if params.TimeMax, err = parseTime(args.TimeMax); err != nil {
			return nil, fmt.Errorf("%w: time_max: %v", errBadArguments, err)
		}
		return g.calendar.ListEvents(ctx, token, args.CalendarID, params)
	case "create_event":
		if args.Event == nil {
			return nil, fmt.Errorf("%w: event is required", errBadArguments)
		}
		return g.calendar.CreateEvent(ctx, token, args.CalendarID, *args.Event)
	case "update_event":
		if strings.TrimSpace(args.EventID) == "" || args.Event == nil {
			return nil, fmt.Errorf("%w: event_id and event are required", errBadArguments)
		}
		return g.calendar.UpdateEvent(ctx, token, args.CalendarID, args.EventID, *args.Event)
	case "delete_event":
		if strings.TrimSpace(args.EventID) == "" {
			return nil, fmt.Errorf("%w: event_id is required", errBadArguments)
		}
		if err := g.calendar.DeleteEvent(ctx, token, args.CalendarID, args.EventID); err != nil {
			return nil, err
		}
		return map[string]string{"deleted": args.EventID}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownTool, name)
	}
}

func parseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
