package jsruntime

// Version is the library version.
const Version = "0.3.0"

// EngineName names the JavaScript engine behind every isolate.
const EngineName = "sobek"
