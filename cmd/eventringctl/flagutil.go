package main

import "github.com/c2h5oh/datasize"

// byteSizeFlag adapts datasize.ByteSize (which only implements
// encoding.TextMarshaler/TextUnmarshaler) to pflag.Value, so CLI flags
// can accept human-friendly sizes like "128MB" the same way the
// teacher's controlplane cfg.go fields do for YAML.
type byteSizeFlag struct {
	v *datasize.ByteSize
}

func (f byteSizeFlag) String() string {
	if f.v == nil {
		return ""
	}
	return f.v.String()
}

func (f byteSizeFlag) Set(s string) error {
	return f.v.UnmarshalText([]byte(s))
}

func (f byteSizeFlag) Type() string {
	return "byteSize"
}
