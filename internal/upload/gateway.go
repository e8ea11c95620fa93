package upload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mathops/proctor/internal/domain"
	"github.com/mathops/proctor/internal/metrics"

	"github.com/google/uuid"
)

// Kind is the upload type tag sent in the type query parameter.
type Kind string

const (
	KindMetadata Kind = "M"
	KindPhoto    Kind = "P"
	KindID       Kind = "I"
	KindWebcam   Kind = "V"
	KindScreen   Kind = "S"
	KindEvent    Kind = "E"
)

// Event names uploaded with KindEvent.
const (
	EventStartStreaming = "START-STREAMING"
	EventExamEnded      = "EXAM-ENDED"
	EventPageClosed     = "PAGE-CLOSED"
)

// Item is one artifact to upload.
type Item struct {
	Kind        Kind
	Body        []byte
	ContentType string
	// Terminal marks an upload made after the session has finished; it is
	// dropped silently when no identity is set.
	Terminal bool
}

type metadata struct {
	Exam   string `json:"exam"`
	Course string `json:"course"`
}

// Metadata builds the session metadata upload.
func Metadata(id domain.Identity) Item {
	body, _ := json.Marshal(metadata{Exam: id.ExamID, Course: id.CourseID})
	return Item{Kind: KindMetadata, Body: body, ContentType: "application/json"}
}

// Photo builds the student photo upload.
func Photo(jpeg []byte) Item {
	return Item{Kind: KindPhoto, Body: jpeg, ContentType: "image/jpeg"}
}

// IDImage builds the ID card image upload.
func IDImage(jpeg []byte) Item {
	return Item{Kind: KindID, Body: jpeg, ContentType: "image/jpeg"}
}

// Chunk builds a media chunk upload for a source.
func Chunk(src domain.Source, data []byte, mimeType string) Item {
	kind := KindWebcam
	if src == domain.Screen {
		kind = KindScreen
	}
	return Item{Kind: kind, Body: data, ContentType: mimeType}
}

// Event builds a discrete event upload.
func Event(name string) Item {
	return Item{Kind: KindEvent, Body: []byte(name), ContentType: "text/plain"}
}

// Gateway posts artifacts to the upload endpoint, tagged with the current
// session identity. Sends are fire-and-forget.
type Gateway struct {
	endpoint string
	client   *http.Client
	identity func() *domain.Identity
	now      func() time.Time

	wg sync.WaitGroup
}

// NewGateway creates a gateway. identity is consulted on every send.
func NewGateway(endpoint string, jar http.CookieJar, identity func() *domain.Identity) *Gateway {
	return &Gateway{
		endpoint: endpoint,
		client:   &http.Client{Jar: jar, Timeout: 2 * time.Minute},
		identity: identity,
		now:      time.Now,
	}
}

// Send issues the upload on its own goroutine. Without a session identity
// the item is dropped and no request is made.
func (g *Gateway) Send(item Item) {
	id := g.identity()
	if id == nil {
		metrics.UploadDropped(string(item.Kind))
		if !item.Terminal {
			log.Printf("[upload] proctoring session ID not set, cannot upload type %s", item.Kind)
		}
		return
	}

	req, err := g.newRequest(*id, item)
	if err != nil {
		log.Printf("[upload] build request: %v", err)
		return
	}

	metrics.Upload(string(item.Kind), len(item.Body))

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		resp, err := g.client.Do(req)
		if err != nil {
			log.Printf("[upload] type %s: %v", item.Kind, err)
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
}

// Wait blocks until in-flight uploads have completed.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) newRequest(id domain.Identity, item Item) (*http.Request, error) {
	u, err := url.Parse(g.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse upload endpoint: %w", err)
	}

	q := u.Query()
	q.Set("psid", id.ProctoringSessionID)
	q.Set("stuid", id.StudentID)
	q.Set("type", string(item.Kind))
	q.Set("when", Token(g.now()))
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodPost, u.String(), bytes.NewReader(item.Body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", item.ContentType)
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}
