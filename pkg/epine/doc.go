// Package epine ties the pieces together: a script is evaluated in the sandbox, its result is
// normalized into a build file and rendered as a Makefile.
//
// Generator.Generate works on in-memory sources. GenerateFile and Watch add the file handling
// used by the command line: locating the input, writing the output atomically and regenerating
// it whenever the project directory changes.
package epine
