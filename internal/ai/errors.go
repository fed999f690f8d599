package ai

import "errors"

var ErrUnknownProvider = errors.New("unknown ai provider")
