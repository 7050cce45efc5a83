package docs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"
)

func TestSwaggerDocument(t *testing.T) {
	require.NoError(t, SwaggerInfo.Err())

	raw, err := swag.ReadDoc()
	require.NoError(t, err)

	var doc struct {
		Swagger string                    `json:"swagger"`
		Paths   map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Equal(t, "2.0", doc.Swagger)

	for path, method := range map[string]string{
		"/ws":                         "get",
		"/ws/ticket":                  "post",
		"/notifications":              "get",
		"/notifications/unread-count": "get",
		"/notifications/read-all":     "put",
		"/notifications/{id}/read":    "put",
		"/notifications/{id}":         "delete",
		"/users/{id}/presence":        "get",
		"/chats":                      "post",
		"/chats/{id}":                 "get",
		"/chats/{id}/messages":        "post",
		"/chats/{id}/read":            "put",
		"/chats/messages/{messageId}": "delete",
	} {
		require.Contains(t, doc.Paths, path)
		assert.Contains(t, doc.Paths[path], method, path)
	}
}

func TestStringKeys(t *testing.T) {
	out := stringKeys(map[any]any{200: []any{map[any]any{true: "x"}}})
	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"200":[{"true":"x"}]}`, string(b))
}
