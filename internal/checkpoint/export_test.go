package checkpoint

var ClassifyMinioError = classifyMinioError
