package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func authRouter(opts AuthOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(opts))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, UserID(c)) })
	return r
}

func doAuth(r *gin.Engine, setup func(*http.Request)) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if setup != nil {
		setup(req)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_BearerToken(t *testing.T) {
	r := authRouter(AuthOptions{Secret: testSecret})

	good := signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	w := doAuth(r, func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+good) })
	if w.Code != http.StatusOK || w.Body.String() != "user-1" {
		t.Fatalf("valid token: code=%d body=%q", w.Code, w.Body.String())
	}

	cases := map[string]string{
		"wrong secret": signToken(t, []byte("other"), jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix(),
		}),
		"expired": signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix(),
		}),
		"no exp": signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-1"}),
		"no sub": signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}),
		"wrong alg": signToken(t, testSecret, jwt.SigningMethodHS512, jwt.MapClaims{
			"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix(),
		}),
		"garbage": "not-a-jwt",
	}
	for name, tok := range cases {
		w := doAuth(r, func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+tok) })
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"code":"unauthorized"`) {
			t.Fatalf("%s: unexpected body %s", name, w.Body.String())
		}
	}
}

func TestAuth_DevHeader(t *testing.T) {
	dev := authRouter(AuthOptions{AllowDevHeader: true})
	w := doAuth(dev, func(req *http.Request) { req.Header.Set(HeaderUserID, "  alice  ") })
	if w.Code != http.StatusOK || w.Body.String() != "alice" {
		t.Fatalf("dev header: code=%d body=%q", w.Code, w.Body.String())
	}

	w = doAuth(dev, func(req *http.Request) { req.Header.Set(HeaderUserID, strings.Repeat("x", 65)) })
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("overlong id: expected 401, got %d", w.Code)
	}

	strict := authRouter(AuthOptions{Secret: testSecret})
	w = doAuth(strict, func(req *http.Request) { req.Header.Set(HeaderUserID, "alice") })
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("dev header disabled: expected 401, got %d", w.Code)
	}
}

func TestAuth_NoIdentity(t *testing.T) {
	r := authRouter(AuthOptions{AllowDevHeader: true})
	if w := doAuth(r, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	// A bearer token without a configured secret is never accepted, even
	// when the dev header is also present.
	w := doAuth(r, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer abc")
		req.Header.Set(HeaderUserID, "alice")
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUserID_Accessor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if UserID(c) != "" {
		t.Fatalf("expected empty user id")
	}
	c.Set(UserIDKey, 42)
	if UserID(c) != "" {
		t.Fatalf("expected empty user id for wrong type")
	}
	c.Set(UserIDKey, "u1")
	if UserID(c) != "u1" {
		t.Fatalf("expected u1")
	}
}
