package fetch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func respWith(status int, headers map[string]string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h}
}

func TestDetectBlock_Forbidden(t *testing.T) {
	blocked, bt := DetectBlock(respWith(403, nil), []byte("denied"))
	assert.True(t, blocked)
	assert.Equal(t, BlockStatus, bt)
}

func TestDetectBlock_RateLimited(t *testing.T) {
	blocked, bt := DetectBlock(respWith(429, nil), nil)
	assert.True(t, blocked)
	assert.Equal(t, BlockStatus, bt)
}

func TestDetectBlock_CloudflareHeaders(t *testing.T) {
	blocked, bt := DetectBlock(respWith(403, map[string]string{"cf-ray": "abc123"}), nil)
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)
}

func TestDetectBlock_ChallengePage(t *testing.T) {
	body := []byte("<html>Checking your browser before accessing</html>")
	blocked, bt := DetectBlock(respWith(200, nil), body)
	assert.True(t, blocked)
	assert.Equal(t, BlockCloudflare, bt)
}

func TestDetectBlock_Captcha(t *testing.T) {
	body := []byte(`<div class="g-recaptcha"></div>`)
	blocked, bt := DetectBlock(respWith(200, nil), body)
	assert.True(t, blocked)
	assert.Equal(t, BlockCaptcha, bt)
}

func TestDetectBlock_CleanPage(t *testing.T) {
	blocked, bt := DetectBlock(respWith(200, nil), []byte("<html>welcome</html>"))
	assert.False(t, blocked)
	assert.Equal(t, BlockNone, bt)
}
