package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 64 << 10

// apiError is the JSON error body of every failed request
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"errcode"`
	Message string `json:"message"`
}

var (
	errNoBody         = &apiError{http.StatusBadRequest, "NO_BODY", "There wasn't a body in this request"}
	errMalformedBody  = &apiError{http.StatusBadRequest, "MALFORMED_BODY", "The body of this request isn't a JSON object"}
	errNoPlayerID     = &apiError{http.StatusBadRequest, "NO_PLAYER_ID", "There wasn't a player ID provided"}
	errPlayerIDType   = &apiError{http.StatusBadRequest, "PLAYER_ID_TYPE", "The provided player ID wasn't a string"}
	errNoPlayerName   = &apiError{http.StatusBadRequest, "NO_PLAYER_NAME", "A player name was not provided"}
	errPlayerNameType = &apiError{http.StatusBadRequest, "PLAYER_NAME_TYPE", "The provided player name wasn't a string"}
	errNoOwner        = &apiError{http.StatusBadRequest, "NO_OWNER", "An owner attribute was not provided"}
	errOwnerType      = &apiError{http.StatusBadRequest, "OWNER_TYPE_ERROR", "The owner attribute provided is not a string type"}
	errAltAdded       = &apiError{http.StatusUnauthorized, "ALT_ALREADY_ADDED", "The alt provided is already stored in the database"}
	errInvalidOwner   = &apiError{http.StatusUnauthorized, "INVALID_OWNER", "The provided player name couldn't be resolved"}
	errInternal       = &apiError{http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred"}
)

// validated decodes and checks the request body before calling next with
// the typed payload. Schema violations end the request with a 400.
func validated[T any](parse func(fields map[string]json.RawMessage) (T, *apiError), next func(http.ResponseWriter, *http.Request, T)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		fields, apiErr := readFields(w, req)
		if apiErr != nil {
			writeAPIError(w, req, apiErr)
			return
		}
		payload, apiErr := parse(fields)
		if apiErr != nil {
			writeAPIError(w, req, apiErr)
			return
		}
		next(w, req, payload)
	}
}

// readFields decodes a JSON object body without interpreting its values,
// so absent fields can be told apart from fields of the wrong type
func readFields(w http.ResponseWriter, req *http.Request) (map[string]json.RawMessage, *apiError) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, errNoBody
	}
	var fields map[string]json.RawMessage
	err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(&fields)
	switch {
	case errors.Is(err, io.EOF):
		return nil, errNoBody
	case err != nil:
		return nil, errMalformedBody
	case fields == nil:
		return nil, errNoBody
	}
	return fields, nil
}

// stringField extracts a required non-empty string
func stringField(fields map[string]json.RawMessage, name string, missing, wrongType *apiError) (string, *apiError) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return "", missing
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", wrongType
	}
	if strings.TrimSpace(s) == "" {
		return "", missing
	}
	return s, nil
}

type isValidPlayerRequest struct {
	PlayerID string
}

func parseIsValidPlayer(fields map[string]json.RawMessage) (isValidPlayerRequest, *apiError) {
	id, apiErr := stringField(fields, "player_id", errNoPlayerID, errPlayerIDType)
	return isValidPlayerRequest{PlayerID: id}, apiErr
}

type newAltRequest struct {
	Owner      string
	PlayerName string
}

func parseNewAlt(fields map[string]json.RawMessage) (newAltRequest, *apiError) {
	name, apiErr := stringField(fields, "player_name", errNoPlayerName, errPlayerNameType)
	if apiErr != nil {
		return newAltRequest{}, apiErr
	}
	owner, apiErr := stringField(fields, "owner", errNoOwner, errOwnerType)
	if apiErr != nil {
		return newAltRequest{}, apiErr
	}
	return newAltRequest{Owner: owner, PlayerName: name}, nil
}

type delAltRequest struct {
	PlayerName string
}

func parseDelAlt(fields map[string]json.RawMessage) (delAltRequest, *apiError) {
	name, apiErr := stringField(fields, "player_name", errNoPlayerName, errPlayerNameType)
	return delAltRequest{PlayerName: name}, apiErr
}
