package main

import "errors"

// Sentinel errors for command operations
var (
	ErrEmptyStatement    = errors.New("statement is empty")
	ErrNoCases           = errors.New("no case files given")
	ErrChecksFailed      = errors.New("some cases did not match their expectations")
	ErrPartialInspection = errors.New("inspection is partial")
)
