package scm

// stub is returned when no supported SCM is detected at the repo root.
type stub struct{}

func (s *stub) ChangedFiles(fromCommit string, toCommit string, relativeTo string) ([]string, error) {
	return nil, nil
}

func (s *stub) PreviousContent(fromCommit string, filePath string) ([]byte, error) {
	return nil, nil
}
