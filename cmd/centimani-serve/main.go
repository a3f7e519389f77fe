// Command centimani-serve runs a small HTTP/1.1 server exposing an echo
// route and a root index, the Go translation of the teacher's demo
// binaries into a server-side showcase of the Pipeline and Router.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	centimani "github.com/NoZip/centimani"
	"github.com/NoZip/centimani/pkg/message"
	"github.com/NoZip/centimani/pkg/server"
)

type indexHandler struct {
	server.BaseHandler
}

func newIndexHandler(p *server.Pipeline, req *message.Request) server.Handler {
	h := &indexHandler{}
	h.BaseHandler = server.NewBaseHandler(p, req, map[string]server.MethodFunc{
		"GET": h.get,
	})
	return h
}

func (h *indexHandler) get(ctx context.Context, p *server.Pipeline, args []string, named map[string]string) error {
	resp := message.NewResponse(200, nil)
	resp.Headers.Set("content-type", "text/plain; charset=utf-8")
	resp.Body = []byte("centimani\n")
	return p.SendResponse(ctx, resp)
}

type echoHandler struct {
	server.BaseHandler
}

func newEchoHandler(p *server.Pipeline, req *message.Request) server.Handler {
	h := &echoHandler{}
	h.BaseHandler = server.NewBaseHandler(p, req, map[string]server.MethodFunc{
		"GET":  h.echo,
		"POST": h.echo,
	})
	return h
}

func (h *echoHandler) echo(ctx context.Context, p *server.Pipeline, args []string, named map[string]string) error {
	var body []byte
	if err := p.ReadBody(ctx, func(b []byte) (int, error) {
		body = append(body, b...)
		return len(b), nil
	}); err != nil {
		return err
	}

	resp := message.NewResponse(200, nil)
	resp.Headers.Set("content-type", "text/plain; charset=utf-8")
	resp.Headers.Set("x-echo-name", named["name"])
	resp.Body = body
	return p.SendResponse(ctx, resp)
}

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	router := server.NewPatternRouter()
	router.Handle("/", server.NewBaseHandlerFactory([]string{"GET"}, newIndexHandler))
	router.Handle("/echo/{name}", server.NewBaseHandlerFactory([]string{"GET", "POST"}, newEchoHandler))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("listening", slog.String("addr", *addr))
	if err := centimani.ListenAndServe(ctx, *addr, router, centimani.WithLogger(logger)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
