package ws

import (
	"context"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
)

func newRequestWithOrigin(origin string) *http.Request {
	r, _ := http.NewRequest("GET", "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestParseBookChannel(t *testing.T) {
	id, err := ParseBookChannel("book.42")
	if err != nil || id != 42 {
		t.Fatalf("expected 42, got %d err=%v", id, err)
	}

	for _, bad := range []string{"", "book", "book.", "book.x", "book.-1", "trades.42", "book.1.2"} {
		if _, err := ParseBookChannel(bad); err == nil {
			t.Fatalf("channel %q should be rejected", bad)
		}
	}
}

func TestBookChannelRoundTrip(t *testing.T) {
	channel := BookChannel(7)
	if channel != "book.7" {
		t.Fatalf("expected book.7, got %q", channel)
	}
	if id, err := ParseBookChannel(channel); err != nil || id != 7 {
		t.Fatalf("round trip failed: %d %v", id, err)
	}
}

func TestNormalizeUserChannelFormat(t *testing.T) {
	format, hasUserID := normalizeUserChannelFormat("private:user:{userId}:events")
	if !hasUserID || format != "private:user:%d:events" {
		t.Fatalf("unexpected format %q hasUserID=%v", format, hasUserID)
	}

	format, hasUserID = normalizeUserChannelFormat("broadcast:events")
	if hasUserID || format != "broadcast:events" {
		t.Fatalf("unexpected format %q hasUserID=%v", format, hasUserID)
	}
}

func TestPublisherPublishes(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	p := NewPublisher(client, "")
	if err := p.PublishFill(context.Background(), 10, map[string]int64{"qty": 5}); err != nil {
		t.Fatalf("publish fill: %v", err)
	}
	if err := p.PublishOrderAccepted(context.Background(), 10, map[string]int64{"orderId": 1}); err != nil {
		t.Fatalf("publish order: %v", err)
	}
}

func TestPublisherChannelAndPayload(t *testing.T) {
	client, mock := redismock.NewClientMock()
	defer client.Close()

	p := NewPublisher(client, "")
	expected := []byte(`{"channel":"order","data":{"orderId":1},"event":"accepted"}`)
	mock.ExpectPublish("private:user:10:events", expected).SetVal(1)

	if err := p.PublishOrderAccepted(context.Background(), 10, map[string]int64{"orderId": 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAllowOrigin(t *testing.T) {
	cases := []struct {
		origin  string
		allowed []string
		want    bool
	}{
		{"", nil, true},
		{"https://app.example.com", []string{"https://app.example.com"}, true},
		{"https://evil.example.com", []string{"https://app.example.com"}, false},
		{"https://evil.example.com", []string{"*"}, true},
		{"https://app.example.com", nil, false},
	}
	for _, c := range cases {
		r := newRequestWithOrigin(c.origin)
		if got := allowOrigin(r, c.allowed); got != c.want {
			t.Fatalf("origin %q allowed %v: expected %v, got %v", c.origin, c.allowed, c.want, got)
		}
	}
}
