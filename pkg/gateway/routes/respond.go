package routes

import (
	"errors"
	"io"
	"net/http"

	"github.com/smarthospital/vitals/pkg/common/apierror"
	"github.com/smarthospital/vitals/pkg/common/logger"
)

// readBody reads the whole request body, answering with an error response
// itself when that fails.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		return body, true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		apierror.Write(w, apierror.BadRequest("request body too large"))
		return nil, false
	}
	logger.Log.WithError(err).Warn("failed to read request body")
	apierror.Write(w, apierror.BadRequest("unreadable request body"))
	return nil, false
}

func writeInternal(w http.ResponseWriter, err error, msg string) {
	logger.Log.WithError(err).Error(msg)
	apierror.Write(w, apierror.Internal())
}
