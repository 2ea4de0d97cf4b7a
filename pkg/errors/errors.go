package errors

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new Error with the given code and the cause error
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	GrpcCode() grpccodes.Code
	HTTPStatus() int
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	// convert any metadata to map[string]string
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err == nil {
		// keep numbers as they were encoded, timestamps must not turn into floats
		dec := json.NewDecoder(bytes.NewReader(buf))
		dec.UseNumber()
		var genericMap map[string]any
		if err := dec.Decode(&genericMap); err == nil {
			for k, v := range genericMap {
				vStr := ""
				if v != nil {
					switch v.(type) {
					case []any, map[string]any:
						b, _ := json.Marshal(v)
						vStr = string(b)
					default:
						vStr = fmt.Sprintf("%v", v)
					}
				}
				metadata[k] = vStr
			}
		}
	}
	return metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) HTTPStatus() int {
	return runtime.HTTPStatusFromCode(e.code.GrpcCode)
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

// Error() implements the error interface.
func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

type RoundMetadata struct {
	RoundId string `json:"round_id"`
}

type AliceMetadata struct {
	RoundId string `json:"round_id"`
	AliceId string `json:"alice_id"`
}

// WrongPhaseMetadata tells the caller when to retry.
type WrongPhaseMetadata struct {
	RoundId        string   `json:"round_id"`
	CurrentPhase   string   `json:"current_phase"`
	ExpectedPhases []string `json:"expected_phases"`
	PhaseEndTime   int64    `json:"phase_end_time"`
}

type InputMetadata struct {
	Outpoint string `json:"outpoint"`
}

type InputBannedMetadata struct {
	Outpoint    string `json:"outpoint"`
	BannedUntil int64  `json:"banned_until"`
	Reason      string `json:"reason"`
}

type OwnershipProofMetadata struct {
	RoundId  string `json:"round_id"`
	Outpoint string `json:"outpoint"`
}

type CredentialMetadata struct {
	RoundId string `json:"round_id"`
	Kind    string `json:"kind"`
}

type AmountTooHighMetadata struct {
	Amount    int64 `json:"amount"`
	MaxAmount int64 `json:"max_amount"`
}

type AmountTooLowMetadata struct {
	Amount    int64 `json:"amount"`
	MinAmount int64 `json:"min_amount"`
}

type ScriptMetadata struct {
	Script     string `json:"script"`
	ScriptType string `json:"script_type"`
}

type InputCountMetadata struct {
	Count    int `json:"count"`
	MaxCount int `json:"max_count"`
}

type VsizeMetadata struct {
	Vsize    int64 `json:"vsize"`
	MaxVsize int64 `json:"max_vsize"`
}

type SignatureMetadata struct {
	RoundId    string `json:"round_id"`
	InputIndex int    `json:"input_index"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", grpccodes.Internal}
var INVALID_REQUEST = Code[map[string]any]{1, "INVALID_REQUEST", grpccodes.InvalidArgument}
var ROUND_NOT_FOUND = Code[RoundMetadata]{2, "ROUND_NOT_FOUND", grpccodes.NotFound}
var ALICE_NOT_FOUND = Code[AliceMetadata]{3, "ALICE_NOT_FOUND", grpccodes.NotFound}
var WRONG_PHASE = Code[WrongPhaseMetadata]{4, "WRONG_PHASE", grpccodes.FailedPrecondition}
var INPUT_BANNED = Code[InputBannedMetadata]{5, "INPUT_BANNED", grpccodes.PermissionDenied}

var INPUT_ALREADY_REGISTERED = Code[InputMetadata]{
	6,
	"INPUT_ALREADY_REGISTERED",
	grpccodes.AlreadyExists,
}

var INPUT_NOT_WHITELISTED = Code[InputMetadata]{
	7,
	"INPUT_NOT_WHITELISTED",
	grpccodes.PermissionDenied,
}

var INPUT_SPENT_OR_NOT_FOUND = Code[InputMetadata]{
	8,
	"INPUT_SPENT_OR_NOT_FOUND",
	grpccodes.InvalidArgument,
}

var INVALID_OWNERSHIP_PROOF = Code[OwnershipProofMetadata]{
	9,
	"INVALID_OWNERSHIP_PROOF",
	grpccodes.InvalidArgument,
}

var CREDENTIAL_PROTOCOL_VIOLATION = Code[CredentialMetadata]{
	10,
	"CREDENTIAL_PROTOCOL_VIOLATION",
	grpccodes.InvalidArgument,
}
var AMOUNT_TOO_HIGH = Code[AmountTooHighMetadata]{11, "AMOUNT_TOO_HIGH", grpccodes.InvalidArgument}
var AMOUNT_TOO_LOW = Code[AmountTooLowMetadata]{12, "AMOUNT_TOO_LOW", grpccodes.InvalidArgument}
var SCRIPT_NOT_ALLOWED = Code[ScriptMetadata]{13, "SCRIPT_NOT_ALLOWED", grpccodes.InvalidArgument}
var TOO_MANY_INPUTS = Code[InputCountMetadata]{14, "TOO_MANY_INPUTS", grpccodes.ResourceExhausted}
var TOO_MUCH_VSIZE = Code[VsizeMetadata]{15, "TOO_MUCH_VSIZE", grpccodes.InvalidArgument}
var INVALID_SIGNATURE = Code[SignatureMetadata]{16, "INVALID_SIGNATURE", grpccodes.InvalidArgument}

var ALICE_ALREADY_CONFIRMED = Code[AliceMetadata]{
	17,
	"ALICE_ALREADY_CONFIRMED",
	grpccodes.AlreadyExists,
}

var ALICE_ALREADY_SIGNED = Code[AliceMetadata]{
	18,
	"ALICE_ALREADY_SIGNED",
	grpccodes.AlreadyExists,
}

var SERVICE_NOT_READY = Code[map[string]any]{19, "SERVICE_NOT_READY", grpccodes.Unavailable}
