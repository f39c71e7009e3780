package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/discussion-experiments/pkg/eventlog"
	"github.com/astromechza/discussion-experiments/pkg/push"
)

const maxEventBody = 1 << 20

type server struct {
	store     *eventlog.Store
	queueSize int
	static    string

	// shutdown is cancelled when the process stops. http.Server.Close does not reach hijacked
	// connections, so websocket handlers watch it to send their close frame.
	shutdown context.Context
	conns    sync.WaitGroup
}

func (s *server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodPost).Path("/event").HandlerFunc(s.postEvent)
	r.Methods(http.MethodGet).Path("/events").HandlerFunc(s.getEvents)
	r.Methods(http.MethodGet).Path("/subscribe").HandlerFunc(s.subscribe)
	r.Methods(http.MethodGet).Path("/sync").HandlerFunc(s.sync)
	r.Methods(http.MethodPost).Path("/whoami").HandlerFunc(s.whoami)
	if s.static != "" {
		r.Methods(http.MethodGet).PathPrefix("/").Handler(http.FileServer(http.Dir(s.static)))
	}
	return r
}

type eventInput struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

func (s *server) postEvent(writer http.ResponseWriter, request *http.Request) {
	var input eventInput
	if err := json.NewDecoder(http.MaxBytesReader(writer, request.Body, maxEventBody)).Decode(&input); err != nil {
		slog.Error("failed to decode body", "err", err)
		writer.WriteHeader(http.StatusBadRequest)
		return
	}
	if input.EventType == "" {
		slog.Error("rejecting event without type")
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	ev := s.store.Append(input.EventType, input.Data)
	writeJSON(writer, ev)
}

func (s *server) getEvents(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, s.store.Events())
}

func (s *server) subscribe(writer http.ResponseWriter, request *http.Request) {
	if err := push.ServeSSE(writer, request, s.store, s.queueSize); err != nil {
		slog.Error("failed to push", "err", err)
	}
}

func (s *server) sync(writer http.ResponseWriter, request *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	s.conns.Add(1)
	defer s.conns.Done()

	ctx, cancel := context.WithCancel(request.Context())
	defer cancel()
	if s.shutdown != nil {
		defer context.AfterFunc(s.shutdown, cancel)()
	}
	if err := push.ServeWebsocket(ctx, conn, s.store, s.queueSize); err != nil {
		slog.Error("failed to sync", "err", err)
	}
}

type user struct {
	Username  string `json:"username"`
	Name      string `json:"name"`
	Thumbnail string `json:"thumbnail"`
}

var (
	adjectives = []string{"Quiet", "Brave", "Curious", "Sleepy", "Nimble", "Grumpy", "Cheerful", "Sly"}
	animals    = []string{"Otter", "Badger", "Heron", "Lynx", "Wombat", "Falcon", "Newt", "Yak"}
)

func randomUser() user {
	username := uuid.NewString()
	return user{
		Username:  username,
		Name:      adjectives[rand.Intn(len(adjectives))] + " " + animals[rand.Intn(len(animals))],
		Thumbnail: fmt.Sprintf("https://robohash.org/%s?size=64x64", username),
	}
}

func (s *server) whoami(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, randomUser())
}

func writeJSON(writer http.ResponseWriter, v interface{}) {
	writer.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(writer).Encode(v); err != nil {
		slog.Error("failed to encode response", "err", err)
	}
}
