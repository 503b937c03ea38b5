// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package csrf

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SignWebhook produces a signature header value for body at time t, in the
// format "t=<unix>,v1=<hex hmac>".
func SignWebhook(secret string, t time.Time, body []byte) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(webhookMAC(secret, ts, body))
}

func webhookMAC(secret, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}

// verifyWebhook checks the provider signature of r. The body is read and
// put back so the handler still sees it.
func (v *Validator) verifyWebhook(r *http.Request) Result {
	header := r.Header.Get(v.cfg.WebhookSignatureHeader)
	if header == "" {
		return reject(ReasonSignatureMissing)
	}

	var ts string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			if sig, err := hex.DecodeString(val); err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == "" || len(sigs) == 0 {
		return reject(ReasonSignatureInvalid)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return reject(ReasonSignatureInvalid)
	}
	age := v.now().Sub(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	if age > v.cfg.WebhookTolerance {
		return reject(ReasonSignatureInvalid)
	}

	body, err := readBody(r, v.cfg.MaxWebhookBody)
	if err != nil {
		return reject(ReasonSignatureInvalid)
	}

	expected := webhookMAC(v.cfg.WebhookSecret, ts, body)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return valid()
		}
	}
	return reject(ReasonSignatureInvalid)
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}
