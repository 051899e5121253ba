package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"

	"economy-engine/models"

	"golang.org/x/text/unicode/norm"
)

const maxPhotoBytes = 5 * 1024 * 1024

var dataURLPattern = regexp.MustCompile(`^data:(image/(?:png|jpeg|jpg|webp|gif));base64,([A-Za-z0-9+/=\s]+)$`)

// ProofArchiver stores photo proofs and returns their public URL.
type ProofArchiver interface {
	Archive(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Proof is a validated submission proof.
type Proof struct {
	Raw         string
	Key         string // normalized form used for reuse detection, "" when not comparable
	ContentType string
	Data        []byte // decoded photo bytes
}

// ParseProof validates raw against the mission's verification mode.
func ParseProof(mode models.VerificationMode, raw string) (*Proof, error) {
	raw = strings.TrimSpace(raw)
	switch mode {
	case models.VerificationLink:
		return parseLinkProof(raw)
	case models.VerificationPhoto:
		return parsePhotoProof(raw)
	case models.VerificationConfirmation:
		if raw == "" {
			return nil, validation("confirmation is required")
		}
		return &Proof{Raw: raw}, nil
	}
	return nil, validation("unsupported verification mode %q", mode)
}

func parseLinkProof(raw string) (*Proof, error) {
	if raw == "" {
		return nil, validation("a link is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || !strings.Contains(u.Host, ".") {
		return nil, validation("proof must be an http(s) URL")
	}
	return &Proof{Raw: raw, Key: NormalizeLink(u)}, nil
}

func parsePhotoProof(raw string) (*Proof, error) {
	m := dataURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, validation("proof must be a base64 image data URL")
	}
	payload := strings.Join(strings.Fields(m[2]), "")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) == 0 {
		return nil, validation("image payload is not valid base64")
	}
	if len(data) > maxPhotoBytes {
		return nil, validation("image exceeds %d bytes", maxPhotoBytes)
	}
	sum := sha256.Sum256(data)
	return &Proof{
		Raw:         raw,
		Key:         "sha256:" + hex.EncodeToString(sum[:]),
		ContentType: m[1],
		Data:        data,
	}, nil
}

// NormalizeLink folds scheme, case, "www." and trailing slashes so trivially different links compare equal.
func NormalizeLink(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	path := strings.TrimRight(u.EscapedPath(), "/")
	key := host + path
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return norm.NFKC.String(key)
}

// Extension returns the file extension for an image content type.
func (p *Proof) Extension() string {
	switch p.ContentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	}
	return "jpg"
}
