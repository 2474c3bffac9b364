package middleware

// errorEnvelope is the error shape shared with the api package:
// {"status":"error","message":"..."}.
type errorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func errorBody(msg string) errorEnvelope {
	return errorEnvelope{Status: "error", Message: msg}
}
