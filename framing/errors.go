package framing

import "errors"

var (
	// ErrNegativeLength indicates a length slot decoded to a negative value.
	ErrNegativeLength = errors.New("framing: negative length")

	// ErrTypeNameTooLong indicates a type-name length above the configured limit.
	ErrTypeNameTooLong = errors.New("framing: type name too long")

	// ErrPayloadTooLarge indicates a payload length above the configured limit.
	ErrPayloadTooLarge = errors.New("framing: payload too large")

	// ErrShortFrame indicates a buffer ends before the frame it describes.
	ErrShortFrame = errors.New("framing: short frame")

	// ErrTrailingBytes indicates a buffer holds bytes after a complete frame.
	ErrTrailingBytes = errors.New("framing: trailing bytes after frame")

	// ErrParserBroken is returned by a Parser after a terminal error.
	ErrParserBroken = errors.New("framing: parser is broken")

	// ErrLineTooLong indicates a line exceeded the maximum length before a
	// delimiter arrived. The partial line is discarded.
	ErrLineTooLong = errors.New("framing: line too long")

	// ErrUnknownKind indicates an unrecognised framing kind name.
	ErrUnknownKind = errors.New("framing: unknown framing kind")
)
