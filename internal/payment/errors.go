package payment

import "errors"

var (
	ErrGatewayUnreachable = errors.New("payment gateway unreachable")
	ErrGatewayTimeout     = errors.New("payment gateway timeout")
	ErrDeclined           = errors.New("payment declined")
)
