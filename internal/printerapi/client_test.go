package printerapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trunov/pdfpress/internal/config"
)

func TestConvertStagedSendsFormAndAuth(t *testing.T) {
	var gotUser, gotPass string
	var gotForm map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotForm = map[string]string{
			"filename":        r.PostFormValue("filename"),
			"lo_options":      r.PostFormValue("lo_options"),
			"delete_original": r.PostFormValue("delete_original"),
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"success","pdf":"report.pdf"}`))
	}))
	defer srv.Close()

	c := New(config.WorkerConfig{PrinterAPIURL: srv.URL, User: "admin", Password: "secret"})
	if err := c.ConvertStaged(context.Background(), "report.xlsx", "opts", true); err != nil {
		t.Fatalf("convert staged: %v", err)
	}

	if gotUser != "admin" || gotPass != "secret" {
		t.Fatalf("basic auth not forwarded: %s/%s", gotUser, gotPass)
	}
	if gotForm["filename"] != "report.xlsx" {
		t.Fatalf("filename not sent: %+v", gotForm)
	}
	if gotForm["lo_options"] != "opts" {
		t.Fatalf("lo_options not sent: %+v", gotForm)
	}
	if gotForm["delete_original"] != "1" {
		t.Fatalf("delete_original not sent: %+v", gotForm)
	}
}

func TestConvertStagedOmitsEmptyOptionalFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if _, ok := r.PostForm["lo_options"]; ok {
			t.Errorf("empty lo_options should not be sent")
		}
		if _, ok := r.PostForm["delete_original"]; ok {
			t.Errorf("false delete_original should not be sent")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(config.WorkerConfig{PrinterAPIURL: srv.URL})
	if err := c.ConvertStaged(context.Background(), "report.xlsx", "", false); err != nil {
		t.Fatalf("convert staged: %v", err)
	}
}

func TestConvertStagedNon2xxReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"File not found"}`))
	}))
	defer srv.Close()

	c := New(config.WorkerConfig{PrinterAPIURL: srv.URL})
	err := c.ConvertStaged(context.Background(), "gone.xlsx", "", false)
	if err == nil {
		t.Fatalf("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "File not found") {
		t.Fatalf("error should carry status and body: %v", err)
	}
}
