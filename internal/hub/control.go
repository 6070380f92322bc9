package hub

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/codefionn/cylonn/internal/consts"
	"github.com/codefionn/cylonn/internal/envelope"
	"github.com/codefionn/cylonn/internal/glob"
	"github.com/codefionn/cylonn/internal/logger"
)

// controlError is the error object of a failed control response.
type controlError struct {
	Message string `json:"message"`
	Filter  string `json:"filter,omitempty"`
}

// isControl reports whether kind is addressed to the broker itself.
func isControl(kind string) bool {
	return strings.HasPrefix(kind, consts.KindPrefix)
}

// control handles kinds under consts.KindPrefix. They are never broadcast.
// Only requests get an answer; other shapes are counted as dropped.
func (h *Hub) control(sender *client, env *envelope.Envelope) {
	if sender == nil {
		return
	}
	if env.Shape() != envelope.Request {
		sender.dropped++
		logger.Warn("hub: client %d: dropping %s %s, kinds under %s are reserved for the broker",
			sender.id, env.Shape(), env.Kind(), consts.KindPrefix)
		return
	}

	switch env.Kind() {
	case consts.KindSubscribe:
		h.subscribe(sender, env)
	default:
		h.reply(sender, env, nil, &controlError{Message: "unknown broker kind " + env.Kind()})
	}
}

// subscribe replaces the sender's filter with params.kinds. On error the
// previous filter stays in force.
func (h *Hub) subscribe(sender *client, env *envelope.Envelope) {
	kinds := env.Param("kinds")
	if !kinds.IsArray() {
		h.reply(sender, env, nil, &controlError{Message: "params.kinds must be an array of strings"})
		return
	}

	filters := make([]string, 0, len(kinds.Array()))
	for _, k := range kinds.Array() {
		if k.Type != gjson.String {
			h.reply(sender, env, nil, &controlError{Message: "params.kinds must be an array of strings"})
			return
		}
		filters = append(filters, k.String())
	}

	set, err := glob.NewSet(filters)
	if err != nil {
		ce := &controlError{Message: err.Error()}
		var globErr *glob.Error
		if errors.As(err, &globErr) {
			ce.Filter = globErr.Filter
		}
		h.reply(sender, env, nil, ce)
		return
	}

	sender.filter = set
	logger.Info("hub: client %d subscribed to %v", sender.id, set.Filters())
	h.reply(sender, env, map[string][]string{"kinds": set.Filters()}, nil)
}

func (h *Hub) reply(c *client, req *envelope.Envelope, result any, ce *controlError) {
	var (
		line []byte
		err  error
	)
	if ce != nil {
		line, err = envelope.NewErrorResponse(req.ID(), req.Kind(), ce)
	} else {
		line, err = envelope.NewResponse(req.ID(), req.Kind(), result)
	}
	if err != nil {
		logger.Error("hub: encode %s response: %v", req.Kind(), err)
		return
	}
	if err := h.write(c, line); err != nil {
		logger.Warn("hub: write to client %d failed: %v", c.id, err)
		h.remove(c.id, err)
		return
	}
	c.received++
}
