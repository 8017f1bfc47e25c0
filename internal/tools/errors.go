package tools

import (
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/frihet-io/frihet-mcp/internal/frihet"
)

// friendlyMessages maps upstream status codes to bilingual explanations.
var friendlyMessages = map[int]string{
	400: "Bad request. Check your input parameters. / Solicitud incorrecta. Revisa los parametros.",
	401: "Authentication failed. Check your API key. / Autenticacion fallida. Revisa tu API key.",
	403: "Access denied. Your API key does not have permission for this action. / Acceso denegado.",
	404: "Resource not found. / Recurso no encontrado.",
	405: "Method not allowed. / Metodo no permitido.",
	413: "Request body too large (max 1MB). / Cuerpo de la solicitud demasiado grande (max 1MB).",
	429: "Rate limit exceeded. Try again later. / Limite de peticiones excedido. Intenta mas tarde.",
	500: "Internal server error. Try again later. / Error interno del servidor.",
}

// errorText renders err the way tool results report failures.
//
//	Error: Resource not found. / Recurso no encontrado.
//	Details: Invoice not found
func errorText(err error) string {
	apiErr, ok := frihet.AsAPIError(err)
	if !ok {
		return "Error: " + err.Error()
	}

	friendly, ok := friendlyMessages[apiErr.StatusCode]
	if !ok {
		friendly = fmt.Sprintf("API error %d: %s", apiErr.StatusCode, apiErr.Message)
	}
	text := "Error: " + friendly
	if apiErr.Message != "" {
		text += "\nDetails: " + apiErr.Message
	}
	return text
}

// errorResult wraps errorText in an isError tool result.
func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(errorText(err))
}
