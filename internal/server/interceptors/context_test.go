package interceptors

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

func TestWithRequestID_RoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	id, ok := GetRequestID(ctx)
	if !ok {
		t.Fatal("GetRequestID should return true")
	}
	if id != "req-1" {
		t.Errorf("request_id = %q, want %q", id, "req-1")
	}
}

func TestGetRequestID_ReturnsFalseWhenNotSet(t *testing.T) {
	id, ok := GetRequestID(context.Background())
	if ok {
		t.Error("GetRequestID should return false when not set")
	}
	if id != "" {
		t.Errorf("request_id = %q, want empty string", id)
	}
}

func TestClientIP(t *testing.T) {
	tcp := &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 51234}
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{
			name: "forwarded for takes first hop",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", " 203.0.113.9, 10.0.0.1")),
			want: "203.0.113.9",
		},
		{
			name: "real ip",
			ctx:  metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-real-ip", "198.51.100.4")),
			want: "198.51.100.4",
		},
		{
			name: "peer address",
			ctx:  peer.NewContext(context.Background(), &peer.Peer{Addr: tcp}),
			want: "10.0.0.7",
		},
		{
			name: "unknown",
			ctx:  context.Background(),
			want: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClientIP(tt.ctx); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
