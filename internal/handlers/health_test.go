package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterHealthRoutes(r, func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDBPing(t *testing.T) {
	gin.SetMode(gin.TestMode)

	up := gin.New()
	RegisterHealthRoutes(up, func(context.Context) error { return nil })
	rec := httptest.NewRecorder()
	up.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/db-ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := gin.New()
	RegisterHealthRoutes(down, func(context.Context) error { return errors.New("connection refused") })
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/db-ping", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"down","error":"connection refused"}`, rec.Body.String())
}
