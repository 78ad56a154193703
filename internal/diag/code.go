package diag

import "fmt"

// Code is a packed diagnostic code.
//
// Layout (int32):
//
//	[1 bit: failure flag][15 bits: unused][4 bits: category flag][12 bits: id]
//
// Errors always carry the failure flag, warnings never do. Ok is the only
// code without a category. Codes compare by raw integer equality.
type Code int32

// Category identifies the family a code belongs to.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryCommon
	CategoryJS
	CategoryJSON
	CategoryNet
)

const (
	failureBit Code = -1 << 31
	idMask     Code = 0x0fff
	flagMask   Code = 0xf000
)

// Error category flags. Warning categories are numbered independently.
const (
	errCommonFlag Code = 0x1000 << iota
	errJSFlag
	errJSONFlag
	errNetFlag
)

const (
	wrnCommonFlag Code = 0x1000 << iota
	wrnNetFlag
)

const Ok Code = 0

// Warnings.
const (
	WrnIncompleteOperation Code = wrnCommonFlag | 0x1
	WrnObjNotInit          Code = wrnCommonFlag | 0x2
	WrnInvalidArgument     Code = wrnCommonFlag | 0x3
	WrnArgumentOmitted     Code = wrnCommonFlag | 0x4

	WrnNetUnknownAddressFamily Code = wrnNetFlag | 0x1
)

// Common errors.
const (
	ErrUnknown               Code = failureBit | errCommonFlag | 0x1
	ErrFailed                Code = failureBit | errCommonFlag | 0x2
	ErrAccessDenied          Code = failureBit | errCommonFlag | 0x3
	ErrObjNotInit            Code = failureBit | errCommonFlag | 0x4
	ErrTimeout               Code = failureBit | errCommonFlag | 0x5
	ErrInvalidArgument       Code = failureBit | errCommonFlag | 0x6
	ErrFileNotFound          Code = failureBit | errCommonFlag | 0x7
	ErrPathNotFound          Code = failureBit | errCommonFlag | 0x8
	ErrInsufficientResources Code = failureBit | errCommonFlag | 0x9
	ErrInvalidHandle         Code = failureBit | errCommonFlag | 0xa
	ErrOutOfMemory           Code = failureBit | errCommonFlag | 0xb
	ErrFileNoSpace           Code = failureBit | errCommonFlag | 0xc
	ErrFileExists            Code = failureBit | errCommonFlag | 0xd
	ErrFilePathTooLong       Code = failureBit | errCommonFlag | 0xe
	ErrNotImplemented        Code = failureBit | errCommonFlag | 0xf
	ErrAborted               Code = failureBit | errCommonFlag | 0x10
	ErrFileTooBig            Code = failureBit | errCommonFlag | 0x11
	ErrIncompleteOperation   Code = failureBit | errCommonFlag | 0x12
	ErrUnsupportedType       Code = failureBit | errCommonFlag | 0x13
	ErrNotEnoughData         Code = failureBit | errCommonFlag | 0x14
	ErrFileNotExists         Code = failureBit | errCommonFlag | 0x15
	ErrFileEmpty             Code = failureBit | errCommonFlag | 0x16
	ErrFileInUse             Code = failureBit | errCommonFlag | 0x17
	ErrTooManyOpenFiles      Code = failureBit | errCommonFlag | 0x18
	ErrInvalidOperation      Code = failureBit | errCommonFlag | 0x19
	ErrIOError               Code = failureBit | errCommonFlag | 0x1a
	ErrPathNotDirectory      Code = failureBit | errCommonFlag | 0x1b
	ErrFileNotOpened         Code = failureBit | errCommonFlag | 0x1c
	ErrArgumentOmitted       Code = failureBit | errCommonFlag | 0x1d
)

// Script errors.
const (
	ErrJSUnknown       Code = failureBit | errJSFlag | 0x1
	ErrJSException     Code = failureBit | errJSFlag | 0x2
	ErrJSCacheRejected Code = failureBit | errJSFlag | 0x3
)

// Serialization errors.
const (
	ErrJSONInvalidEscape           Code = failureBit | errJSONFlag | 0x1
	ErrJSONSyntaxError             Code = failureBit | errJSONFlag | 0x2
	ErrJSONUnexpectedToken         Code = failureBit | errJSONFlag | 0x3
	ErrJSONTrailingComma           Code = failureBit | errJSONFlag | 0x4
	ErrJSONTooMuchNesting          Code = failureBit | errJSONFlag | 0x5
	ErrJSONUnexpectedDataAfterRoot Code = failureBit | errJSONFlag | 0x6
	ErrJSONUnsupportedEncoding     Code = failureBit | errJSONFlag | 0x7
	ErrJSONUnquotedDictionaryKey   Code = failureBit | errJSONFlag | 0x8
	ErrJSONInappropriateType       Code = failureBit | errJSONFlag | 0x9
	ErrJSONInappropriateValue      Code = failureBit | errJSONFlag | 0xa
)

// Network errors.
const (
	ErrNetIOPending            Code = failureBit | errNetFlag | 0x1
	ErrNetInternetDisconnected Code = failureBit | errNetFlag | 0x2
	ErrNetConnectionReset      Code = failureBit | errNetFlag | 0x3
	ErrNetConnectionAborted    Code = failureBit | errNetFlag | 0x4
	ErrNetConnectionRefused    Code = failureBit | errNetFlag | 0x5
	ErrNetConnectionClosed     Code = failureBit | errNetFlag | 0x6
	ErrNetSocketIsConnected    Code = failureBit | errNetFlag | 0x7
	ErrNetAddressUnreachable   Code = failureBit | errNetFlag | 0x8
	ErrNetAddressInvalid       Code = failureBit | errNetFlag | 0x9
	ErrNetAddressInUse         Code = failureBit | errNetFlag | 0xa
	ErrNetMsgTooBig            Code = failureBit | errNetFlag | 0xb
	ErrNetSocketNotConnected   Code = failureBit | errNetFlag | 0xc
	ErrNetInvalidPackage       Code = failureBit | errNetFlag | 0xd
	ErrNetEntityTooLarge       Code = failureBit | errNetFlag | 0xe
	ErrNetActionNotAllowed     Code = failureBit | errNetFlag | 0xf
)

// Failed reports whether the failure flag is set.
func (c Code) Failed() bool { return c&failureBit != 0 }

// Succeeded reports whether the failure flag is clear. Warnings succeed.
func (c Code) Succeeded() bool { return !c.Failed() }

// IsWarning reports whether c is a categorized non-failure code.
func (c Code) IsWarning() bool { return !c.Failed() && c != Ok }

// ID returns the id within the category.
func (c Code) ID() uint16 { return uint16(c & idMask) }

// Category decodes the category flag. Warning and error flags share bit
// positions but not numbering, so the failure bit selects the table.
func (c Code) Category() Category {
	flag := c & flagMask
	if flag == 0 {
		return CategoryNone
	}
	if c.Failed() {
		switch flag {
		case errCommonFlag:
			return CategoryCommon
		case errJSFlag:
			return CategoryJS
		case errJSONFlag:
			return CategoryJSON
		case errNetFlag:
			return CategoryNet
		}
		return CategoryNone
	}
	switch flag {
	case wrnCommonFlag:
		return CategoryCommon
	case wrnNetFlag:
		return CategoryNet
	}
	return CategoryNone
}

// Name returns the registered symbolic name, e.g. "errNetEntityTooLarge".
func (c Code) Name() string {
	if e, ok := registry[c]; ok {
		return e.name
	}
	return undefinedName
}

// Description returns the registered human-readable description.
func (c Code) Description() string {
	if e, ok := registry[c]; ok {
		return e.description
	}
	return undefinedDescription
}

// Known reports whether c is present in the registry.
func (c Code) Known() bool {
	_, ok := registry[c]
	return ok
}

func (c Code) String() string {
	return fmt.Sprintf("%s(0x%08x)", c.Name(), uint32(c))
}

func (c Category) String() string {
	switch c {
	case CategoryCommon:
		return "Common"
	case CategoryJS:
		return "JS"
	case CategoryJSON:
		return "Json"
	case CategoryNet:
		return "Net"
	default:
		return "None"
	}
}
