package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withAPI(t *testing.T, h http.Handler) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	prev := apiAddr
	apiAddr = srv.URL
	t.Cleanup(func() { apiAddr = prev })
}

func TestAPIErrorsCarryServerMessage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/tasks/1", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found: 1"})
	})
	withAPI(t, r)

	_, err := apiGet("/tasks/1")
	require.Error(t, err)
	assert.Equal(t, "API error (404): task not found: 1", err.Error())
}

func TestAPIPostSendsJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/topics", func(c *gin.Context) {
		var body map[string]string
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"name": body["name"]})
	})
	withAPI(t, r)

	var got struct {
		Name string `json:"name"`
	}
	require.NoError(t, apiPostJSON("/topics", map[string]string{"name": "alerts"}, &got))
	assert.Equal(t, "alerts", got.Name)
}

func TestCheckHealthReturnsPayloadOnFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "db": "closed", "version": "test"})
	})
	withAPI(t, r)

	health, err := CheckHealth()
	require.Error(t, err)
	require.NotNil(t, health)
	assert.False(t, health.OK)
	assert.Equal(t, "closed", health.DB)
}
