package load

var UpsertStatement = upsertStatement
