package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/internal/core/ports"
	"trade-settlement-engine/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tokenSvc := mocks.NewMockTokenService(ctrl)

	router := gin.New()
	router.GET("/test", JWTAuth(tokenSvc, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "AUTH_001", decodeEnvelope(t, w)["error_code"])
}

func TestJWTAuth_MalformedHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tokenSvc := mocks.NewMockTokenService(ctrl)

	router := gin.New()
	router.GET("/test", JWTAuth(tokenSvc, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	for _, header := range []string{"Basic dXNlcjpwYXNz", "Bearer ", "token"} {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", header)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
		assert.Equal(t, "AUTH_003", decodeEnvelope(t, w)["error_code"], header)
	}
}

func TestJWTAuth_InvalidToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate("bad_token").Return(nil, assert.AnError)

	router := gin.New()
	router.GET("/test", JWTAuth(tokenSvc, zerolog.Nop()), func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer bad_token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tokenSvc := mocks.NewMockTokenService(ctrl)
	userID := uuid.New()
	tokenSvc.EXPECT().Validate("good_token").Return(&ports.TokenClaims{
		UserID: userID,
		Role:   domain.UserRoleUser,
	}, nil)

	var captured domain.Principal
	router := gin.New()
	router.GET("/test", JWTAuth(tokenSvc, zerolog.Nop()), func(c *gin.Context) {
		captured = PrincipalFrom(c)
		c.JSON(200, gin.H{"ok": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer good_token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, captured.UserID)
	assert.Equal(t, domain.UserRoleUser, captured.Role)
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name string
		role domain.UserRole
		want int
	}{
		{"admin passes", domain.UserRoleAdmin, http.StatusOK},
		{"user forbidden", domain.UserRoleUser, http.StatusForbidden},
		{"no role forbidden", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/admin", func(c *gin.Context) {
				c.Set(CtxUserID, uuid.New())
				if tt.role != "" {
					c.Set(CtxRole, tt.role)
				}
				c.Next()
			}, RequireAdmin(), func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestPrincipalFrom_Unauthenticated(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	p := PrincipalFrom(c)
	assert.Equal(t, uuid.Nil, p.UserID)
	assert.False(t, p.IsAdmin())
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxRequestID))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))
	generated := w.Header().Get(HeaderRequestID)
	_, err := uuid.Parse(generated)
	require.NoError(t, err)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderRequestID, "req-abc")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-abc", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-abc", w.Body.String())
}

func TestRecovery_PanicRecovered(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Recovery(zerolog.Nop()))
	router.GET("/panic", func(c *gin.Context) {
		panic("something went wrong")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(HeaderRequestID, "req-panic")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "SYS_001", body["error_code"])
	assert.Equal(t, "req-panic", body["request_id"])
}
