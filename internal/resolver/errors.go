package resolver

import "errors"

var (
	// ErrNoOutputFound means no referenced name satisfies the dual-accessor
	// rule and no directive pins the output.
	ErrNoOutputFound = errors.New("no output array found")

	// ErrAmbiguousOutput means more than one referenced name satisfies the
	// dual-accessor rule.
	ErrAmbiguousOutput = errors.New("ambiguous output array")

	// ErrDynamicName means an accessor was called with a computed (non
	// literal) name argument; bindings must be discoverable statically.
	ErrDynamicName = errors.New("dynamic array names are unsupported")

	// ErrNoInputs means the callback reads no input arrays, so shape and
	// type cannot be inferred and must be declared via a udf directive.
	ErrNoInputs = errors.New("callback references no input arrays")

	// ErrParse means the frontend could not parse the callback source.
	ErrParse = errors.New("callback source does not parse")

	// ErrUnsupportedLanguage means no frontend is registered for the
	// requested language.
	ErrUnsupportedLanguage = errors.New("unsupported callback language")

	// ErrNoEntryPoint means the source defines no callable entry function.
	ErrNoEntryPoint = errors.New("no entry function found")

	// ErrBadDirective means a "udf:" declaration comment is malformed.
	ErrBadDirective = errors.New("malformed udf directive")
)
