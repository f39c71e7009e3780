package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/discussion-experiments/pkg/discussion"
	"github.com/astromechza/discussion-experiments/pkg/eventlog"
	"github.com/astromechza/discussion-experiments/pkg/push"
	"github.com/astromechza/discussion-experiments/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "127.0.0.1:8080", "the address to request on")
	quietVar := flag.Bool("quiet", false, "only follow the discussion, never post")
	flag.Parse()
	baseUrl, err := url.Parse("http://" + *addrVar)
	if err != nil {
		return err
	}

	c := &client{baseUrl: baseUrl, state: discussion.NewState()}
	if err := c.whoami(); err != nil {
		return err
	}
	slog.Info("established identity", "username", c.me.Username, "name", c.me.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.connectAndFollowContinuously(ctx)
	}()

	if !*quietVar {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.postRandomlyContinuously(ctx)
		}()
	}

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	wg.Wait()

	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	if err := viz.WriteDot(os.Stdout, c.state); err != nil {
		return fmt.Errorf("failed to dump: %w", err)
	}
	return nil
}

type client struct {
	baseUrl *url.URL
	me      discussion.Author

	stateLock sync.Mutex // protects state
	state     *discussion.State
}

func (c *client) whoami() error {
	resp, err := http.DefaultClient.Post(c.baseUrl.JoinPath("whoami").String(), "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		return fmt.Errorf("failed to post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&c.me); err != nil {
		return fmt.Errorf("failed to decode identity: %w", err)
	}
	return nil
}

func (c *client) connectAndFollowContinuously(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		if err := c.connectAndFollow(ctx); err != nil {
			slog.Error("failed to follow", "err", err)
		} else {
			slog.Info("connection closed")
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			slog.Info("stopping follow")
			return
		}
	}
}

func (c *client) connectAndFollow(ctx context.Context) error {
	u := c.baseUrl.JoinPath("sync")
	u.Scheme = "ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	// every connection starts with a full backfill
	c.stateLock.Lock()
	c.state = discussion.NewState()
	c.stateLock.Unlock()

	return push.Receive(ctx, conn, func(batch []eventlog.Event) {
		c.stateLock.Lock()
		defer c.stateLock.Unlock()
		c.state.Fold(batch)
		slog.Info("folded", "events", len(batch), "comments", c.state.Len(), "top", len(c.state.TopLevel()))
	})
}

var phrases = []string{
	"I agree.", "Not sure about that.", "Has anyone measured this?", "Great point!",
	"This reminds me of something.", "Could you elaborate?", "Interesting.",
}

func (c *client) postRandomlyContinuously(ctx context.Context) {
	for {
		t := time.NewTimer(time.Second + time.Second*time.Duration(rand.Intn(5)))
		select {
		case <-t.C:
			eventType, data := c.randomAction()
			if err := c.post(ctx, eventType, data); err != nil {
				slog.Error("failed to post", "type", eventType, "err", err)
			} else {
				slog.Info("posted", "type", eventType)
			}
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping scheduled posts")
			return
		}
	}
}

// randomAction picks a new comment, a reply, or an upvote toggle on an existing comment.
func (c *client) randomAction() (string, interface{}) {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()

	comments := c.state.Comments()
	body := phrases[rand.Intn(len(phrases))]
	if len(comments) == 0 || rand.Intn(3) == 0 {
		return eventlog.TypeAddComment, map[string]interface{}{"from": c.me, "body": body, "parentCommentId": nil}
	}
	target := comments[rand.Intn(len(comments))]
	if !target.IsReply() && rand.Intn(2) == 0 {
		return eventlog.TypeAddComment, map[string]interface{}{"from": c.me, "body": body, "parentCommentId": target.EventID}
	}
	vote := map[string]interface{}{"from": c.me.Username, "commentId": target.EventID}
	if target.Upvoted(c.me.Username) {
		return eventlog.TypeRemoveCommentUpvote, vote
	}
	return eventlog.TypeAddCommentUpvote, vote
}

func (c *client) post(ctx context.Context, eventType string, data interface{}) error {
	body, err := json.Marshal(map[string]interface{}{"eventType": eventType, "data": data})
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl.JoinPath("event").String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
