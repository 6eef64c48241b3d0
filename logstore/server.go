package logstore

import (
	"encoding/json"
	"log"
	"time"

	"github.com/valyala/fasthttp"
)

// InspectServer exposes the mirror for read-only inspection: "what did the
// build log last record for this output". Grounded on the teacher's
// rbe_rest_service.go (fasthttp.Server + ctx.QueryArgs()/ctx.Success), with
// HandleUpload and the filesystem artifact store dropped entirely — this
// server never accepts a command's output, only reports on ones the
// Builder already ran and recorded itself (spec.md's Non-goals exclude
// remote execution and cross-machine coordination, which uploading build
// artifacts to a shared store would both require).
type InspectServer struct {
	mirror *Mirror
	server *fasthttp.Server
}

func NewInspectServer(mirror *Mirror) *InspectServer {
	this := &InspectServer{mirror: mirror}
	this.server = &fasthttp.Server{
		Handler:      this.handle,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return this
}

func (this *InspectServer) handle(ctx *fasthttp.RequestCtx) {
	ctx.Response.Reset()
	switch string(ctx.Path()) {
	case "/entries":
		this.handleLookup(ctx)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (this *InspectServer) handleLookup(ctx *fasthttp.RequestCtx) {
	output := string(ctx.QueryArgs().Peek("output"))
	if output == "" {
		ctx.Error("missing required 'output' query parameter", fasthttp.StatusBadRequest)
		return
	}
	row, err := this.mirror.Lookup(output)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusNotFound)
		return
	}
	buf, err := json.Marshal(row)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.Success("application/json", buf)
}

// ListenAndServe blocks serving on addr until the listener fails.
func (this *InspectServer) ListenAndServe(addr string) error {
	log.Printf("ninja: inspect server listening on %q", addr)
	return this.server.ListenAndServe(addr)
}

func (this *InspectServer) Shutdown() error {
	return this.server.Shutdown()
}
