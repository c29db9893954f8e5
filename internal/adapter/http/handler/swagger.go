package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// openAPISpec holds the OpenAPI YAML loaded at startup.
var openAPISpec []byte

// SetSwaggerSpec sets the OpenAPI document served at /swagger/spec.
func SetSwaggerSpec(spec []byte) {
	openAPISpec = spec
}

// SwaggerSpec serves the raw OpenAPI YAML.
func SwaggerSpec(c *gin.Context) {
	if openAPISpec == nil {
		c.String(http.StatusNotFound, "OpenAPI spec not loaded")
		return
	}
	c.Data(http.StatusOK, "application/x-yaml", openAPISpec)
}

const swaggerPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Trade Settlement Engine - API Docs</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '/swagger/spec',
      dom_id: '#swagger-ui',
      persistAuthorization: true,
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`

// SwaggerUI serves a Swagger UI page that loads /swagger/spec.
func SwaggerUI(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(swaggerPage))
}
