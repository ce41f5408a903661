// Package main provides a command-line utility to dump raw device images.
// It displays hex data from specific offsets for debugging block layouts.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
)

func main() {
	// Define command-line flags
	offset := flag.Int64("offset", 0, "Offset in image to start dumping from")
	length := flag.Int("length", 128, "Number of bytes to dump")
	block := flag.Int64("block", -1, "Dump from the start of this block (overrides -offset)")
	blockSize := flag.Int64("block-size", 8192, "Block size used with -block")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Println("Usage: dump-image [flags] <image>")
		fmt.Println("Flags:")
		flag.PrintDefaults()
		return
	}

	if *block >= 0 {
		*offset = *block * *blockSize
	}

	file := args[0]
	f, err := os.Open(file)
	if err != nil {
		log.Fatalf("Failed to open image: %v", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("Failed to close image: %v", err)
		}
	}()

	// Get image size
	fileInfo, err := f.Stat()
	if err != nil {
		log.Fatalf("Failed to get image info: %v", err)
	}
	fileSize := fileInfo.Size()

	// Validate parameters
	if *offset < 0 || *offset >= fileSize {
		log.Fatalf("Invalid offset: %d (image size: %d)", *offset, fileSize)
	}

	if *length < 1 {
		log.Fatalf("Invalid length: %d", *length)
	}

	// Calculate actual read length
	remaining := fileSize - *offset
	readLength := int64(*length)
	if readLength > remaining {
		readLength = remaining
		fmt.Printf("Warning: requested length %d exceeds available bytes (%d). Dumping %d bytes.\n",
			*length, remaining, readLength)
	}

	// Read specified portion of image
	buf := make([]byte, readLength)
	n, err := f.ReadAt(buf, *offset)
	if err != nil {
		log.Printf("Read error: %v (read %d of %d bytes)", err, n, readLength)
	}

	fmt.Printf("Dumping %d bytes at offset 0x%x (%d) of %s (size: %d bytes):\n",
		n, *offset, *offset, file, fileSize)

	for i := 0; i < n; i += 16 {
		end := i + 16
		if end > n {
			end = n
		}
		chunk := buf[i:end]

		// Hexadecimal dump
		fmt.Printf("%08x: ", *offset+int64(i))
		for j, b := range chunk {
			fmt.Printf("%02x", b)
			if j%2 == 1 {
				fmt.Print(" ")
			}
		}

		// Pad short lines so the ASCII column lines up
		for j := len(chunk); j < 16; j++ {
			fmt.Print("  ")
			if j%2 == 1 {
				fmt.Print(" ")
			}
		}

		// ASCII dump
		fmt.Print(" ")
		for _, b := range chunk {
			if b >= 32 && b < 127 {
				fmt.Printf("%c", b)
			} else {
				fmt.Print(".")
			}
		}
		fmt.Println()
	}
}
