package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return New(server.URL, 5*time.Second)
}

func TestVerifyWallet(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/verify", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0xabc", body["address"])
		assert.Equal(t, "0xsig", body["signature"])

		json.NewEncoder(w).Encode(map[string]string{"address": "0xabc", "token": "tok"})
	})

	auth, err := c.VerifyWallet(context.Background(), "0xabc", "0xsig")
	require.NoError(t, err)
	assert.Equal(t, "tok", auth.Token)
	assert.Equal(t, "0xabc", auth.Address)
}

func TestVerifyWalletMissingToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"address":"0xabc"}`))
	})

	_, err := c.VerifyWallet(context.Background(), "0xabc", "0xsig")
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, KindProtocol, Classify(err))
}

func TestProcessFilesMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/process-file/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		files := r.MultipartForm.File["file"]
		require.Len(t, files, 2)
		assert.Equal(t, "a.pdf", files[0].Filename)
		assert.Equal(t, "b.txt", files[1].Filename)
		assert.Equal(t, []string{"id-a", "id-b"}, r.MultipartForm.Value["documentId"])

		f, err := files[1].Open()
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "hello", string(data))

		w.WriteHeader(http.StatusAccepted)
	})

	acc, err := c.ProcessFiles(context.Background(), "tok", []FilePart{
		{ID: "id-a", Name: "a.pdf", Reader: strings.NewReader("%PDF")},
		{ID: "id-b", Name: "b.txt", Reader: strings.NewReader("hello")},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, acc.StatusCode)
	assert.Empty(t, acc.Confirmations)
}

func TestProcessFilesConfirmations(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []Confirmation
	}{
		{"array", `[{"documentId":"srv-1","clientId":"id-a"}]`, []Confirmation{{DocumentID: "srv-1", ClientID: "id-a"}}},
		{"wrapped", `{"documents":[{"documentId":"srv-2","status":"processing"}]}`, []Confirmation{{DocumentID: "srv-2", Status: "processing"}}},
		{"drops entries without id", `[{"clientId":"id-a"},{"documentId":"srv-3"}]`, []Confirmation{{DocumentID: "srv-3"}}},
		{"message only", `{"message":"ok"}`, nil},
		{"not json", `accepted`, nil},
		{"empty", ``, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			acc, err := c.ProcessFiles(context.Background(), "tok", []FilePart{{Name: "a.pdf", Reader: strings.NewReader("x")}})
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, acc.Confirmations)
			} else {
				assert.Equal(t, tt.want, acc.Confirmations)
			}
		})
	}
}

func TestProcessFilesRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	_, err := c.ProcessFiles(context.Background(), "tok", []FilePart{{Name: "a.pdf", Reader: strings.NewReader("x")}})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Contains(t, te.Body, "quota exceeded")
	assert.Equal(t, KindTransport, Classify(err))
}

func TestUnauthenticatedMakesNoCall(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
	})

	_, err := c.ProcessFiles(context.Background(), "", []FilePart{{Name: "a.pdf", Reader: strings.NewReader("x")}})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = c.GenerateAnswer(context.Background(), "", "hi", "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = c.UploadModel(context.Background(), "", "m.bin", strings.NewReader("x"), nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Zero(t, calls)
	assert.Equal(t, KindAuth, Classify(err))
}

func TestGenerateAnswer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate-answer/", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "what is this?", body["query"])
		v, ok := body["documentId"]
		assert.True(t, ok, "documentId must always be present")
		assert.Equal(t, "", v)

		w.Write([]byte(`{"answer":"A report.","sources":["x"]}`))
	})

	answer, err := c.GenerateAnswer(context.Background(), "tok", "what is this?", "")
	require.NoError(t, err)
	assert.Equal(t, "A report.", answer)
}

func TestGenerateAnswerShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"empty answer", `{"answer":""}`, "", false},
		{"null answer", `{"answer":null}`, "", false},
		{"numeric answer", `{"answer":42}`, "42", false},
		{"missing field", `{"result":"x"}`, "", true},
		{"array body", `["x"]`, "", true},
		{"garbage", `<html>`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			got, err := c.GenerateAnswer(context.Background(), "tok", "q", "doc1")
			if tt.wantErr {
				var pe *ProtocolError
				assert.ErrorAs(t, err, &pe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := New(url, time.Second)
	_, err := c.GenerateAnswer(context.Background(), "tok", "q", "")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, te.StatusCode)
	assert.Equal(t, KindTransport, Classify(err))
}

func TestModels(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/models/upload":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, `{"framework":"onnx"}`, r.FormValue("metadata"))
			w.Write([]byte(`{"success":true,"ipfs_hash":"Qm123"}`))
		case "/models/download":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Qm123", body["cid"])
			w.Write([]byte(`{"message":"ok","file_path":"/tmp/m.bin"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	up, err := c.UploadModel(context.Background(), "tok", "m.bin", strings.NewReader("weights"), map[string]string{"framework": "onnx"})
	require.NoError(t, err)
	assert.Equal(t, "Qm123", up.IPFSHash)

	down, err := c.DownloadModel(context.Background(), "tok", "Qm123")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/m.bin", down.FilePath)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorKind(""), Classify(nil))
	assert.Equal(t, KindNoResponse, Classify(ErrNoResponse))
	assert.Equal(t, KindAuth, Classify(errors.Join(errors.New("ctx"), ErrUnauthenticated)))
	assert.Equal(t, KindOther, Classify(errors.New("boom")))
}
