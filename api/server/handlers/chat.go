package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vocagent/vocagent/agent/orchestrator"
	"github.com/vocagent/vocagent/agent/stream"
	"github.com/vocagent/vocagent/api/auth"
	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/monitor"
)

// maxImageUpload bounds a chat_image upload.
const maxImageUpload = 20 << 20

// TurnRunner executes one chat turn and frames the reply onto out.
// *orchestrator.Orchestrator satisfies it.
type TurnRunner interface {
	Run(ctx context.Context, turn orchestrator.Turn, out chan<- *stream.Frame) error
}

type ChatHandler struct {
	orch TurnRunner
	svc  *auth.Service
}

func NewChatHandler(orch TurnRunner, svc *auth.Service) *ChatHandler {
	return &ChatHandler{orch: orch, svc: svc}
}

type chatRequest struct {
	Username string `json:"username"`
	Token    string `json:"token"`
	Text     string `json:"text"`
}

// Chat streams a text turn. Errors surface as JSON only before the first
// frame; afterwards the stream truncates without a terminal frame.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		respondDomainError(w, r, err)
		return
	}
	if req.Text == "" {
		respondDomainError(w, r, domain.ErrInvalidInput)
		return
	}
	userID, err := h.svc.Check(r.Context(), req.Username, req.Token)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	h.runTurn(w, r, orchestrator.Turn{UserID: userID, Text: req.Text})
}

// ChatImage streams an image turn. The request is multipart with fields
// username, token, image_client_path and an image file part.
func (h *ChatHandler) ChatImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxImageUpload); err != nil {
		respondDomainError(w, r, domain.ErrInvalidInput)
		return
	}
	userID, err := h.svc.Check(r.Context(), r.FormValue("username"), r.FormValue("token"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondDomainError(w, r, domain.ErrInvalidInput)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondDomainError(w, r, domain.ErrInvalidInput)
		return
	}

	h.runTurn(w, r, orchestrator.Turn{
		UserID:          userID,
		Image:           data,
		ImageClientPath: r.FormValue("image_client_path"),
	})
}

func (h *ChatHandler) runTurn(w http.ResponseWriter, r *http.Request, turn orchestrator.Turn) {
	start := time.Now()
	defer monitor.ObserveTurn(start)

	frames := make(chan *stream.Frame, 8)
	done := make(chan error, 1)
	go func() {
		defer close(frames)
		done <- h.orch.Run(r.Context(), turn, frames)
	}()

	started := false
	for frame := range frames {
		if !started {
			stream.WriteSSEHeaders(w)
			started = true
		}
		if err := stream.WriteFrame(w, frame); err != nil {
			slog.WarnContext(r.Context(), "client gone mid-stream", "error", err)
			// Drain so the orchestrator can finish its background write.
			for range frames {
			}
			break
		}
		monitor.FramesStreamed.Inc()
	}

	if err := <-done; err != nil {
		if !started {
			respondDomainError(w, r, err)
			return
		}
		slog.ErrorContext(r.Context(), "turn failed mid-stream", "error", err)
	}
}
