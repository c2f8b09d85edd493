package errors

// Result is the typed outcome handed to clients instead of a raw error.
type Result struct {
	OK        bool   `json:"ok"`
	Code      Code   `json:"code,omitempty"`
	Reason    Reason `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ResultOf converts err into a Result. Untyped errors are reported as internal.
func ResultOf(err error) Result {
	if err == nil {
		return Result{OK: true}
	}
	typed := As(err)
	if typed == nil {
		meta := MetadataFor(CodeInternal)
		return Result{Code: CodeInternal, Message: meta.PublicMessage, Retryable: meta.Retryable}
	}
	meta := MetadataFor(typed.Code())
	msg := typed.Message()
	if msg == "" || typed.Code() == CodeInternal {
		msg = meta.PublicMessage
	}
	return Result{
		Code:      typed.Code(),
		Reason:    typed.Reason(),
		Message:   msg,
		Retryable: meta.Retryable,
	}
}
