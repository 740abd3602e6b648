package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostEncodesFieldsInOrder(t *testing.T) {
	var gotBody, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte("1"))
	}))
	defer srv.Close()

	rec := Record{
		Name:      "cafe wifi",
		Address:   "AA:BB:CC:DD:EE:FF",
		Signal:    -67,
		Timestamp: "1700000000000",
		Latitude:  52.52,
		Longitude: 13.405,
		DeviceID:  "dev-1",
	}
	err := NewClient(srv.URL, srv.Client()).Post(context.Background(), Channel{Name: "wifi", APIKey: "WKEY"}, rec)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}

	want := "api_key=WKEY&field1=cafe+wifi&field2=AA%3ABB%3ACC%3ADD%3AEE%3AFF&field3=-67&field4=1700000000000&field5=52.52&field6=13.405&field7=dev-1"
	if gotBody != want {
		t.Fatalf("body:\n got %s\nwant %s", gotBody, want)
	}
	if gotType != "application/x-www-form-urlencoded" {
		t.Fatalf("content type = %q", gotType)
	}
}

func TestValuesOmitsEmptyDeviceID(t *testing.T) {
	v := Record{Name: ""}.Values(Channel{APIKey: "k"})
	if _, ok := v["field7"]; ok {
		t.Fatalf("field7 should be omitted: %v", v)
	}
	if _, ok := v["field1"]; !ok {
		t.Fatalf("field1 should be present even when empty: %v", v)
	}
}

func TestPostNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, srv.Client()).Post(context.Background(), Channel{Name: "bluetooth"}, Record{})
	if !errors.Is(err, ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests || se.Channel != "bluetooth" {
		t.Fatalf("unexpected error %#v", err)
	}
}

func TestPostTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewClient(url, nil).Post(context.Background(), Channel{Name: "wifi"}, Record{})
	if !errors.Is(err, ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
}
