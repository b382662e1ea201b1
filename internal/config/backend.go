package config

// ConfigBackend persists user settings between runs. Values are typed so
// that `stockmeta config set` round-trips ints and bools without the
// caller reparsing strings. A missing key reports ok == false.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetBool(key string) (val bool, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetBool(key string, val bool) error
	Delete(key string) error
}

// errInvalid reports a stored value that does not match its key's type.
type errInvalid struct {
	key  string
	want string
	val  any
}

func (e *errInvalid) Error() string {
	return "config key " + e.key + " holds an invalid " + e.want + " value"
}
