package schema

var ValidateSet = validate
