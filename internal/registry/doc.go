// Package registry queries the external model hub for available
// CTranslate2 model repositories. It backs the model listing endpoints
// and is not involved in the streaming path.
package registry
