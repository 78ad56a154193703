package diag

const (
	undefinedName        = "UndefinedErrorCode"
	undefinedDescription = "Undefined error code"
)

type entry struct {
	code        Code
	name        string
	description string
}

// registry is built once at init and never mutated afterwards, so lookups
// need no synchronization.
var registry = buildRegistry(codeTable)

var codeTable = []entry{
	{Ok, "Ok", "Success"},

	{WrnIncompleteOperation, "IncompleteOperation", "The operation was incomplete"},
	{WrnObjNotInit, "ObjNotInit", "The object was not initialized"},
	{WrnInvalidArgument, "InvalidArgument", "Argument is invalid and was ignored"},
	{WrnArgumentOmitted, "ArgumentOmitted", "Argument was omitted, a default is used"},
	{WrnNetUnknownAddressFamily, "UnknownAddressFamily", "The address family is unknown"},

	{ErrUnknown, "Unknown", "Unknown error occurred"},
	{ErrFailed, "Failed", "The operation failed"},
	{ErrAccessDenied, "AccessDenied", "Access denied"},
	{ErrObjNotInit, "ObjNotInit", "The object was not initialized"},
	{ErrTimeout, "Timeout", "Timeout occurred"},
	{ErrInvalidArgument, "InvalidArgument", "Argument is invalid"},
	{ErrFileNotFound, "FileNotFound", "The file was not found"},
	{ErrPathNotFound, "PathNotFound", "The path was not found"},
	{ErrInsufficientResources, "InsufficientResources", "Lack of free resources"},
	{ErrInvalidHandle, "InvalidHandle", "The handle is invalid"},
	{ErrOutOfMemory, "OutOfMemory", "No additional memory can be allocated"},
	{ErrFileNoSpace, "FileNoSpace", "There is no space left on the device"},
	{ErrFileExists, "FileExists", "The file exists"},
	{ErrFilePathTooLong, "FilePathTooLong", "The file path is too long"},
	{ErrNotImplemented, "NotImplemented", "The functionality is not implemented"},
	{ErrAborted, "Aborted", "The operation was aborted"},
	{ErrFileTooBig, "FileTooBig", "The file is too big"},
	{ErrIncompleteOperation, "IncompleteOperation", "The operation was incomplete"},
	{ErrUnsupportedType, "UnsupportedType", "The type is not supported"},
	{ErrNotEnoughData, "NotEnoughData", "Not enough data to complete operation"},
	{ErrFileNotExists, "FileNotExists", "The file does not exist"},
	{ErrFileEmpty, "FileEmpty", "The file is empty"},
	{ErrFileInUse, "FileInUse", "The file is in use"},
	{ErrTooManyOpenFiles, "TooManyOpenFiles", "Too many open files"},
	{ErrInvalidOperation, "InvalidOperation", "The operation is not valid in the current state"},
	{ErrIOError, "IOError", "Input/output error"},
	{ErrPathNotDirectory, "PathNotDirectory", "The path is not a directory"},
	{ErrFileNotOpened, "FileNotOpened", "The file is not opened"},
	{ErrArgumentOmitted, "ArgumentOmitted", "A required argument was omitted"},

	{ErrJSUnknown, "Unknown", "Unknown script error occurred"},
	{ErrJSException, "Exception", "Script exception occurred"},
	{ErrJSCacheRejected, "CacheRejected", "Cache was rejected"},

	{ErrJSONInvalidEscape, "InvalidEscape", "Escaped symbol could not be parsed"},
	{ErrJSONSyntaxError, "SyntaxError", "The json has a syntax error"},
	{ErrJSONUnexpectedToken, "UnexpectedToken", "During parsing an unexpected token was encountered"},
	{ErrJSONTrailingComma, "TrailingComma", "The last item of object has a comma after itself"},
	{ErrJSONTooMuchNesting, "TooMuchNesting", "The json has too deep nesting"},
	{ErrJSONUnexpectedDataAfterRoot, "UnexpectedDataAfterRoot", "The json has unexpected data after root item"},
	{ErrJSONUnsupportedEncoding, "UnsupportedEncoding", "String has unsupported encoding"},
	{ErrJSONUnquotedDictionaryKey, "UnquotedDictionaryKey", "The dictionary key has to be quoted"},
	{ErrJSONInappropriateType, "InappropriateType", "Inappropriate type was encountered"},
	{ErrJSONInappropriateValue, "InappropriateValue", "Inappropriate value was encountered"},

	{ErrNetIOPending, "IOPending", "The operation is started but the result is not ready yet"},
	{ErrNetInternetDisconnected, "InternetDisconnected", "The Internet connection has been lost"},
	{ErrNetConnectionReset, "ConnectionReset", "A connection was reset (corresponding to a TCP RST)"},
	{ErrNetConnectionAborted, "ConnectionAborted", "A connection was aborted"},
	{ErrNetConnectionRefused, "ConnectionRefused", "A connection attempt was refused"},
	{ErrNetConnectionClosed, "ConnectionClosed", "A connection was closed (corresponding to a TCP FIN)"},
	{ErrNetSocketIsConnected, "SocketIsConnected", "The socket is already connected"},
	{ErrNetAddressUnreachable, "AddressUnreachable", "The IP address is unreachable"},
	{ErrNetAddressInvalid, "AddressInvalid", "The IP address or port number is invalid"},
	{ErrNetAddressInUse, "AddressInUse", "Attempting to bind an address that is already in use"},
	{ErrNetMsgTooBig, "MsgTooBig", "The message was too large for the transport"},
	{ErrNetSocketNotConnected, "SocketNotConnected", "The socket is not connected"},
	{ErrNetInvalidPackage, "InvalidPackage", "The net package is invalid"},
	{ErrNetEntityTooLarge, "EntityTooLarge", "Net entity is too large for processing"},
	{ErrNetActionNotAllowed, "ActionNotAllowed", "The action is not allowed"},
}

// buildRegistry expands the short names into their full symbolic form:
// err<Name> / wrn<Name> for the common category and err<Category><Name>
// otherwise. Duplicate codes are a programming error.
func buildRegistry(table []entry) map[Code]entry {
	out := make(map[Code]entry, len(table))
	for _, e := range table {
		if _, dup := out[e.code]; dup {
			panic("diag: duplicate code " + e.name)
		}
		out[e.code] = entry{
			code:        e.code,
			name:        symbolicName(e.code, e.name),
			description: e.description,
		}
	}
	return out
}

func symbolicName(c Code, short string) string {
	if c == Ok {
		return "err" + short
	}
	prefix := "wrn"
	if c.Failed() {
		prefix = "err"
	}
	cat := c.Category()
	if cat == CategoryCommon {
		return prefix + short
	}
	return prefix + cat.String() + short
}

// Codes returns every registered code. The order is unspecified.
func Codes() []Code {
	out := make([]Code, 0, len(registry))
	for c := range registry {
		out = append(out, c)
	}
	return out
}
