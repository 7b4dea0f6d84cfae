package clients

import (
	"net/http"
	"time"
)

const defaultTimeout = 60 * time.Second

type HTTP struct{ c *http.Client }

func NewHTTP() *HTTP { return NewHTTPWithTimeout(defaultTimeout) }

func NewHTTPWithTimeout(d time.Duration) *HTTP {
	if d <= 0 {
		d = defaultTimeout
	}
	return &HTTP{c: &http.Client{Timeout: d}}
}
