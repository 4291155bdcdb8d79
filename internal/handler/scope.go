package handler

import "regexp"

var (
	httpRe = regexp.MustCompile(`^https?://\S+`)
	ftpRe  = regexp.MustCompile(`^ftp://\S+`)
	sftpRe = regexp.MustCompile(`^sftp://\S+`)
)

func httpScope(uri string) bool { return httpRe.MatchString(uri) }
func ftpScope(uri string) bool  { return ftpRe.MatchString(uri) }
func sftpScope(uri string) bool { return sftpRe.MatchString(uri) }
