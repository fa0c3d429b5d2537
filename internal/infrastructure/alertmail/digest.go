// Package alertmail implements the Google Alert digest source. Digest
// emails land as .eml files in a drop directory (the mailbox poller that
// puts them there is outside this process); each one carries a hidden
// JSON block that lists the alerted articles.
package alertmail

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"OsintAggregator/internal/domain"
)

// ParseDigest extracts alerted articles from one digest email. The
// reliable path is the inboxmarkup JSON script tag; digests without it
// yield zero items.
func ParseDigest(raw []byte) ([]domain.RawItem, error) {
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	var sentAt *time.Time
	if parsed, err := msg.Header.Date(); err == nil {
		utc := parsed.UTC()
		sentAt = &utc
	}

	html, err := htmlPart(msg)
	if err != nil {
		return nil, err
	}
	if html == "" {
		return nil, nil
	}

	items, err := itemsFromMarkup(html)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].PublishedAt = sentAt
	}
	return items, nil
}

// inboxMarkup mirrors the JSON block Google embeds in digest emails.
type inboxMarkup struct {
	Cards []struct {
		Widgets []struct {
			Type        string `json:"type"`
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"widgets"`
	} `json:"cards"`
}

func itemsFromMarkup(html string) ([]domain.RawItem, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse digest html: %w", err)
	}

	script := doc.Find(`script[data-scope="inboxmarkup"]`).First()
	if script.Length() == 0 {
		return nil, nil
	}

	var markup inboxMarkup
	if err := json.Unmarshal([]byte(script.Text()), &markup); err != nil {
		return nil, fmt.Errorf("parse inboxmarkup json: %w", err)
	}

	var items []domain.RawItem
	for _, card := range markup.Cards {
		for _, widget := range card.Widgets {
			if widget.Type != "LINK" || widget.URL == "" {
				continue
			}
			items = append(items, domain.RawItem{
				URL:     widget.URL,
				Title:   strings.TrimSpace(widget.Title),
				Snippet: strings.TrimSpace(widget.Description),
			})
		}
	}
	return items, nil
}

// htmlPart walks the MIME structure for the first text/html body.
func htmlPart(msg *mail.Message) (string, error) {
	contentType := msg.Header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("parse content type: %w", err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		return htmlFromMultipart(msg.Body, params["boundary"])
	}
	if mediaType == "text/html" {
		return decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	}
	return "", nil
}

func htmlFromMultipart(body io.Reader, boundary string) (string, error) {
	if boundary == "" {
		return "", fmt.Errorf("multipart message without boundary")
	}

	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", fmt.Errorf("read mime part: %w", err)
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			continue
		}
		if strings.HasPrefix(mediaType, "multipart/") {
			if html, err := htmlFromMultipart(part, params["boundary"]); err == nil && html != "" {
				return html, nil
			}
			continue
		}
		if mediaType == "text/html" {
			return decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		}
	}
}

func decodeBody(r io.Reader, transferEncoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	}

	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	return string(decoded), nil
}
