package steps

import (
	"errors"
	"regexp"

	"github.com/AlPairo/temis-backend/internal/platform/openai"
	"github.com/AlPairo/temis-backend/internal/platform/qdrant"
)

const (
	safeMessageInfra   = "El servicio de búsqueda legal está experimentando problemas en este momento. Por favor, inténtalo de nuevo en unos minutos."
	safeMessageGeneric = "Lo sentimos, ha ocurrido un error al procesar tu consulta. Por favor, inténtalo de nuevo."

	noDocumentsMessage = "No se encontraron documentos relevantes para tu consulta. Intenta reformularla o ajustar los filtros de búsqueda."
)

// Message-pattern fallback for collaborator errors that reach us untyped.
// Typed kinds are checked first; this is a compatibility shim, not the
// primary classification.
var infraPattern = regexp.MustCompile(`(?i)(retriev|embedding|vector|qdrant|openai|llm|model|rerank|connection|timeout|timed out|unavailable|refused|reset by peer|503|502)`)

// IsInfrastructureError classifies an error as an infrastructure/health
// failure. Known error kinds from collaborators win; otherwise the error
// text of the whole unwrap chain is matched against a vocabulary of
// infrastructure failure terms.
func IsInfrastructureError(err error) bool {
	if err == nil {
		return false
	}
	var (
		herr *RetrieverHealthError
		rerr *RerankerError
		qerr *qdrant.OperationError
		oerr *openai.HTTPError
	)
	if errors.As(err, &herr) || errors.As(err, &rerr) || errors.As(err, &qerr) || errors.As(err, &oerr) {
		return true
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if infraPattern.MatchString(e.Error()) {
			return true
		}
	}
	return false
}

// SafeMessage maps any internal error to one of two fixed user-facing
// strings. Raw error text never crosses this boundary.
func SafeMessage(err error) string {
	if IsInfrastructureError(err) {
		return safeMessageInfra
	}
	return safeMessageGeneric
}
