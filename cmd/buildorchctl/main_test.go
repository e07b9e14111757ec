package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCallReturnsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Fatalf("decoding envelope: %v", err)
		}
		if env.Op != "JobGet" {
			t.Fatalf("op = %q, want JobGet", env.Op)
		}
		json.NewEncoder(w).Encode(response{ID: env.ID, Result: json.RawMessage(`{"id":1}`)})
	}))
	defer srv.Close()
	*addr = srv.URL

	result, err := call(context.Background(), "JobGet", map[string]interface{}{"job_id": 1})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if string(result) != `{"id":1}` {
		t.Fatalf("result = %s, want {\"id\":1}", result)
	}
}

func TestCallSurfacesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env envelope
		json.NewDecoder(r.Body).Decode(&env)
		json.NewEncoder(w).Encode(response{
			ID: env.ID,
			Error: &struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}{Code: "NotFound", Message: "no such job"},
		})
	}))
	defer srv.Close()
	*addr = srv.URL

	if _, err := call(context.Background(), "JobGet", map[string]interface{}{"job_id": 99}); err == nil {
		t.Fatal("call should return an error when the envelope carries one")
	}
}
